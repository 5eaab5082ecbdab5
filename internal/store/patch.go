package store

import (
	"time"

	"kbtasks/internal/task"
)

// ProgressPatch updates individual progress fields. The executor owns Upload
// and the poller owns Parse; since a patch only touches the fields it sets,
// concurrent writers never overwrite each other's slice of the task.
type ProgressPatch struct {
	Upload *int `json:"upload_progress,omitempty"`
	Parse  *int `json:"parse_progress,omitempty"`
	// Total is an explicit override; it is ignored for upload and parse
	// tasks, whose total is always derived.
	Total *int `json:"total_progress,omitempty"`
}

// Patch is a partial update of a task. Nil fields are left unchanged.
// The group id is deliberately absent: it cannot change after creation.
type Patch struct {
	Status   *task.Status   `json:"status,omitempty"`
	Input    *task.Input    `json:"input,omitempty"`
	Output   *task.Output   `json:"output,omitempty"`
	Progress *ProgressPatch `json:"progress,omitempty"`
	Error    *task.Error    `json:"error,omitempty"`
	// ClearError removes a previous error, e.g. when a task is retried.
	ClearError bool       `json:"clear_error,omitempty"`
	RetryCount *int       `json:"retry_count,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	// SkipCanceled leaves tasks that are already canceled untouched.
	SkipCanceled bool `json:"-"`
}

// apply returns t with the patch merged in. ok is false when the patch was
// skipped.
func (p Patch) apply(t task.Task, now time.Time) (merged task.Task, ok bool) {
	if p.SkipCanceled && t.Status == task.StatusCanceled {
		return t, false
	}
	merged = t.Clone()

	if p.Status != nil {
		merged.Status = *p.Status
	}
	if p.Input != nil {
		mergeInput(&merged.Input, p.Input.Clone())
	}
	if p.Output != nil {
		mergeOutput(&merged.Output, p.Output.Clone())
	}
	if p.Progress != nil {
		if p.Progress.Upload != nil {
			merged.Progress.Upload = *p.Progress.Upload
		}
		if p.Progress.Parse != nil {
			merged.Progress.Parse = *p.Progress.Parse
		}
		if p.Progress.Total != nil {
			v := *p.Progress.Total
			merged.Progress.Total = &v
		}
	}
	if p.ClearError {
		merged.Error = nil
	}
	if p.Error != nil {
		e := *p.Error
		merged.Error = &e
	}
	if p.RetryCount != nil {
		merged.RetryCount = *p.RetryCount
	}
	if p.UpdatedAt != nil {
		merged.UpdatedAt = *p.UpdatedAt
	} else {
		merged.UpdatedAt = now
	}
	return normalize(merged), true
}

func mergeInput(dst *task.Input, src task.Input) {
	if src.Upload != nil {
		dst.Upload = src.Upload
	}
	if src.Parse != nil {
		dst.Parse = src.Parse
	}
	if src.Delete != nil {
		dst.Delete = src.Delete
	}
	if src.Workflow != nil {
		dst.Workflow = src.Workflow
	}
}

func mergeOutput(dst *task.Output, src task.Output) {
	if src.Upload != nil {
		dst.Upload = src.Upload
	}
	if src.Parse != nil {
		dst.Parse = src.Parse
	}
	if src.Workflow != nil {
		dst.Workflow = src.Workflow
	}
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T { return &v }
