package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestComputeTaskProgressUploadWeighting(t *testing.T) {
	tk := Task{Type: TypeUploadDocument, Status: StatusRunning, Progress: Progress{Upload: 100, Parse: 50}}
	require.Equal(t, 85, ComputeTaskProgress(tk))

	tk.Progress = Progress{Upload: 50, Parse: 0}
	require.Equal(t, 35, ComputeTaskProgress(tk))
}

func TestComputeTaskProgressPerType(t *testing.T) {
	cases := []struct {
		name string
		task Task
		want int
	}{
		{"parse uses parse progress", Task{Type: TypeParseDocument, Progress: Progress{Upload: 90, Parse: 40}}, 40},
		{"delete running is zero", Task{Type: TypeDeleteDocument, Status: StatusRunning}, 0},
		{"delete succeeded is full", Task{Type: TypeDeleteDocument, Status: StatusSucceeded}, 100},
		{"workflow override", Task{Type: TypeRunWorkflow, Status: StatusRunning, Progress: Progress{Total: intPtr(42)}}, 42},
		{"workflow override clamped", Task{Type: TypeRunWorkflow, Progress: Progress{Total: intPtr(400)}}, 100},
		{"workflow without override", Task{Type: TypeRunWorkflow, Status: StatusSucceeded}, 100},
		{"unknown type without override", Task{Type: "reindex", Status: StatusRunning}, 0},
		{"unknown type override", Task{Type: "reindex", Progress: Progress{Total: intPtr(-5)}}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, ComputeTaskProgress(c.task))
		})
	}
}

func TestComputeTaskProgressAlwaysInRange(t *testing.T) {
	types := []Type{TypeUploadDocument, TypeParseDocument, TypeDeleteDocument, TypeRunWorkflow, "other"}
	values := []int{-1000, -1, 0, 37, 100, 101, 5000}
	for _, ty := range types {
		for _, up := range values {
			for _, parse := range values {
				tk := Task{Type: ty, Status: StatusSucceeded, Progress: Progress{Upload: up, Parse: parse, Total: intPtr(up)}}
				got := ComputeTaskProgress(tk)
				require.GreaterOrEqual(t, got, 0)
				require.LessOrEqual(t, got, 100)
			}
		}
	}
}

func TestComputeGroupProgressEmpty(t *testing.T) {
	gp := ComputeGroupProgress(nil)
	require.Equal(t, 0, gp.TotalTasks)
	require.Equal(t, 0, gp.Percentage)
	require.Empty(t, gp.Errors)
}

func TestComputeGroupProgressCountsTerminalAsCompleted(t *testing.T) {
	tasks := []Task{
		{ID: "a", Type: TypeDeleteDocument, Status: StatusSucceeded},
		{ID: "b", Type: TypeDeleteDocument, Status: StatusSucceeded},
		{ID: "c", Type: TypeDeleteDocument, Status: StatusFailed, Error: &Error{Message: "not found"}},
		{ID: "d", Type: TypeDeleteDocument, Status: StatusRunning},
	}
	gp := ComputeGroupProgress(tasks)
	require.Equal(t, 4, gp.TotalTasks)
	require.Equal(t, 3, gp.Completed)
	require.Equal(t, 75, gp.Percentage)
	require.Equal(t, 1, gp.Running)
	require.Equal(t, 100, gp.TaskProgress["a"])
	require.Equal(t, 0, gp.TaskProgress["d"])
}

func TestComputeGroupProgressAggregatesErrors(t *testing.T) {
	tasks := []Task{
		{ID: "a", Status: StatusFailed, Error: &Error{Message: "quota exceeded", Code: "QUOTA"}},
		{ID: "b", Status: StatusFailed, Error: &Error{Message: "quota exceeded for kb", Code: "QUOTA"}},
		{ID: "c", Status: StatusFailed, Error: &Error{Message: "bad file"}},
		{ID: "d", Status: StatusSucceeded},
	}
	gp := ComputeGroupProgress(tasks)
	require.Len(t, gp.Errors, 2)
	require.Equal(t, 2, gp.Errors["QUOTA"].Count)
	require.Equal(t, []string{"a", "b"}, gp.Errors["QUOTA"].TaskIDs)
	require.Equal(t, []string{"c"}, gp.Errors["bad file"].TaskIDs)
}

func TestMatchesDocument(t *testing.T) {
	upload := Task{
		Type:  TypeUploadDocument,
		Input: Input{Upload: &UploadInput{KBID: "kb1", FileName: "a.pdf"}},
	}
	require.False(t, upload.MatchesDocument("kb1", "doc1"))

	upload.Output.Upload = &UploadOutput{DocID: "doc1"}
	require.True(t, upload.MatchesDocument("kb1", "doc1"))
	require.False(t, upload.MatchesDocument("kb2", "doc1"))

	parse := Task{Type: TypeParseDocument, Input: Input{Parse: &ParseInput{KBID: "kb1", DocID: "doc2"}}}
	require.True(t, parse.MatchesDocument("kb1", "doc2"))

	del := Task{Type: TypeDeleteDocument, Input: Input{Delete: &DeleteInput{KBID: "kb1", DocID: "doc2"}}}
	require.False(t, del.MatchesDocument("kb1", "doc2"))
	require.False(t, parse.MatchesDocument("kb1", ""))
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusRunning))
	require.True(t, CanTransition(StatusRunning, StatusSucceeded))
	require.True(t, CanTransition(StatusPending, StatusCanceled))
	require.False(t, CanTransition(StatusSucceeded, StatusRunning))
	require.False(t, CanTransition(StatusPending, StatusSucceeded))
	require.False(t, CanTransition(StatusPaused, StatusRunning))
}

func TestLabelsFallBackToRawValue(t *testing.T) {
	require.Equal(t, "Succeeded", StatusLabel(StatusSucceeded))
	require.Equal(t, "Upload document", TypeLabel(TypeUploadDocument))
	require.Equal(t, "mystery", StatusLabel("mystery"))
	require.Equal(t, "reindex", TypeLabel("reindex"))
}

func TestRetryConfigClassifyAndDelay(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.FailFastCodes = []string{"DUPLICATE_DOC"}

	require.Equal(t, RetryStopBatch, cfg.Classify(401, ""))
	require.Equal(t, RetryStopTask, cfg.Classify(409, "DUPLICATE_DOC"))
	require.Equal(t, RetryAgain, cfg.Classify(429, ""))
	require.Equal(t, RetryStopTask, cfg.Classify(400, ""))
	require.Equal(t, RetryNone, cfg.Classify(200, ""))

	require.Equal(t, time.Second, cfg.Delay(0))
	require.Equal(t, 4*time.Second, cfg.Delay(2))
	require.Equal(t, 30*time.Second, cfg.Delay(10))
	require.True(t, cfg.ShouldRetry(2))
	require.False(t, cfg.ShouldRetry(3))
}

func TestCloneIsIndependent(t *testing.T) {
	policy := DefaultRetryConfig()
	orig := Task{
		ID:          "t",
		Type:        TypeRunWorkflow,
		Input:       Input{Workflow: &WorkflowInput{WorkflowID: "wf", Params: map[string]any{"k": "v"}}},
		Progress:    Progress{Total: intPtr(10)},
		Error:       &Error{Message: "x"},
		RetryPolicy: &policy,
	}
	c := orig.Clone()
	c.Input.Workflow.Params["k"] = "changed"
	*c.Progress.Total = 99
	c.Error.Message = "y"
	c.RetryPolicy.RetryableStatuses[0] = 1

	require.Equal(t, "v", orig.Input.Workflow.Params["k"])
	require.Equal(t, 10, *orig.Progress.Total)
	require.Equal(t, "x", orig.Error.Message)
	require.Equal(t, 408, orig.RetryPolicy.RetryableStatuses[0])
}
