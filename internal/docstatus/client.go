// Package docstatus talks to the knowledge-base status endpoint that reports
// how far a document has come through the parsing pipeline.
package docstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateParsing   State = "parsing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Result is the payload of a successful status call.
type Result struct {
	State        State  `json:"status"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

var ErrUnsuccessful = errors.New("status endpoint reported failure")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("status endpoint: http %d", e.Code) }

const (
	defaultHTTPTimeout = 20 * time.Second
	maxBodyBytes       = 1 << 20
)

type Options struct {
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token   string
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls; zero means unlimited.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    httpClient,
		limiter: limiter,
	}
}

type envelope struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Data    *Result `json:"data"`
}

// DocumentStatus fetches the parsing status of one document. Transport
// failures, non-2xx responses, unsuccessful envelopes and malformed bodies all
// come back as errors.
func (c *Client) DocumentStatus(ctx context.Context, kbID, docID string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/knowledge-bases/%s/documents/%s/status",
		c.baseURL, url.PathEscape(kbID), url.PathEscape(docID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Result{}, &StatusError{Code: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		return Result{}, fmt.Errorf("decode status: %w", err)
	}
	if !env.Success || env.Data == nil {
		if env.Message != "" {
			return Result{}, fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)
		}
		return Result{}, ErrUnsuccessful
	}
	return *env.Data, nil
}
