package task

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	// StatusPaused is declared for forward compatibility; nothing moves a task into it yet.
	StatusPaused Status = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled, StatusPaused:
		return true
	default:
		return false
	}
}

type Type string

const (
	TypeUploadDocument Type = "upload_document"
	TypeParseDocument  Type = "parse_document"
	TypeDeleteDocument Type = "delete_document"
	TypeRunWorkflow    Type = "run_workflow"
)

func (t Type) Valid() bool {
	switch t {
	case TypeUploadDocument, TypeParseDocument, TypeDeleteDocument, TypeRunWorkflow:
		return true
	default:
		return false
	}
}

// Input holds the type-specific parameters of a task. Exactly one variant
// is expected to be set, matching Task.Type.
type Input struct {
	Upload   *UploadInput   `json:"upload,omitempty"`
	Parse    *ParseInput    `json:"parse,omitempty"`
	Delete   *DeleteInput   `json:"delete,omitempty"`
	Workflow *WorkflowInput `json:"workflow,omitempty"`
}

type UploadInput struct {
	KBID        string `json:"kb_id"`
	DocID       string `json:"doc_id,omitempty"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type ParseInput struct {
	KBID  string `json:"kb_id"`
	DocID string `json:"doc_id"`
}

type DeleteInput struct {
	KBID  string `json:"kb_id"`
	DocID string `json:"doc_id"`
}

type WorkflowInput struct {
	WorkflowID string         `json:"workflow_id"`
	Params     map[string]any `json:"params,omitempty"`
}

// Output holds results reported by the executor, keyed by task type like Input.
type Output struct {
	Upload   *UploadOutput   `json:"upload,omitempty"`
	Parse    *ParseOutput    `json:"parse,omitempty"`
	Workflow *WorkflowOutput `json:"workflow,omitempty"`
}

// UploadOutput carries the document id assigned by the knowledge base once the upload finishes.
type UploadOutput struct {
	DocID string `json:"doc_id,omitempty"`
}

type ParseOutput struct {
	DocID  string `json:"doc_id,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

type WorkflowOutput struct {
	RunID  string         `json:"run_id,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Progress values are percentages in [0,100].
type Progress struct {
	Upload int `json:"upload_progress"`
	Parse  int `json:"parse_progress"`
	// Total is either derived by ComputeTaskProgress or, for workflow runs,
	// an explicit override supplied by the executor.
	Total *int `json:"total_progress,omitempty"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type Task struct {
	ID          string       `json:"id"`
	GroupID     string       `json:"group_id,omitempty"`
	Type        Type         `json:"type"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Input       Input        `json:"input"`
	Output      Output       `json:"output"`
	Progress    Progress     `json:"progress"`
	Error       *Error       `json:"error,omitempty"`
	RetryCount  int          `json:"retry_count"`
	RetryPolicy *RetryConfig `json:"retry_policy,omitempty"`
}

// DocumentRef is the knowledge-base document a task operates on.
type DocumentRef struct {
	KBID        string
	InputDocID  string
	OutputDocID string
}

// DocumentRef returns the document a task refers to. Only upload and parse
// tasks are tied to a parsed document; for every other type ok is false.
func (t Task) DocumentRef() (ref DocumentRef, ok bool) {
	switch t.Type {
	case TypeUploadDocument:
		if t.Input.Upload == nil {
			return ref, false
		}
		ref = DocumentRef{KBID: t.Input.Upload.KBID, InputDocID: t.Input.Upload.DocID}
		if t.Output.Upload != nil {
			ref.OutputDocID = t.Output.Upload.DocID
		}
		return ref, true
	case TypeParseDocument:
		if t.Input.Parse == nil {
			return ref, false
		}
		ref = DocumentRef{KBID: t.Input.Parse.KBID, InputDocID: t.Input.Parse.DocID}
		if t.Output.Parse != nil {
			ref.OutputDocID = t.Output.Parse.DocID
		}
		return ref, true
	default:
		return ref, false
	}
}

// MatchesDocument reports whether the task tracks docID in kbID. The document
// id may sit in the input (parse tasks) or only in the output (uploads learn it
// after completion).
func (t Task) MatchesDocument(kbID, docID string) bool {
	if docID == "" {
		return false
	}
	ref, ok := t.DocumentRef()
	if !ok || ref.KBID != kbID {
		return false
	}
	return ref.InputDocID == docID || ref.OutputDocID == docID
}

// DocID returns the known document id, preferring the one in the output.
func (r DocumentRef) DocID() string {
	if r.OutputDocID != "" {
		return r.OutputDocID
	}
	return r.InputDocID
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	c.Input = t.Input.Clone()
	c.Output = t.Output.Clone()
	if t.Progress.Total != nil {
		v := *t.Progress.Total
		c.Progress.Total = &v
	}
	if t.Error != nil {
		v := *t.Error
		c.Error = &v
	}
	if t.RetryPolicy != nil {
		v := t.RetryPolicy.Clone()
		c.RetryPolicy = &v
	}
	return c
}

func (in Input) Clone() Input {
	c := in
	if in.Upload != nil {
		v := *in.Upload
		c.Upload = &v
	}
	if in.Parse != nil {
		v := *in.Parse
		c.Parse = &v
	}
	if in.Delete != nil {
		v := *in.Delete
		c.Delete = &v
	}
	if in.Workflow != nil {
		v := *in.Workflow
		v.Params = cloneMap(v.Params)
		c.Workflow = &v
	}
	return c
}

func (out Output) Clone() Output {
	c := out
	if out.Upload != nil {
		v := *out.Upload
		c.Upload = &v
	}
	if out.Parse != nil {
		v := *out.Parse
		c.Parse = &v
	}
	if out.Workflow != nil {
		v := *out.Workflow
		v.Result = cloneMap(v.Result)
		c.Workflow = &v
	}
	return c
}

// shallow: nested values are shared
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
