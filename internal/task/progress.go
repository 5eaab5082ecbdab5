package task

import "math"

const (
	uploadWeight = 0.7
	parseWeight  = 0.3
)

// ClampPercent bounds p to [0,100].
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// IsTerminal reports whether no further transitions are expected from s.
func IsTerminal(s Status) bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// CanTransition encodes pending -> running -> {succeeded|failed|canceled}.
// A pending task may also be canceled before it starts. The store does not
// enforce this; it is offered to writers that want to check their updates.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCanceled
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusCanceled
	default:
		return false
	}
}

// ComputeTaskProgress returns the overall completion percentage of t.
//
// Uploads weight the transfer at 70% and the parse feedback at 30%. Deletions
// are atomic. Workflow runs and unknown types use an explicit total override
// when present and otherwise report 100 only once succeeded.
func ComputeTaskProgress(t Task) int {
	switch t.Type {
	case TypeUploadDocument:
		upload := float64(ClampPercent(t.Progress.Upload))
		parse := float64(ClampPercent(t.Progress.Parse))
		return ClampPercent(int(math.Round(upload*uploadWeight + parse*parseWeight)))
	case TypeParseDocument:
		return ClampPercent(t.Progress.Parse)
	case TypeDeleteDocument:
		return doneOrZero(t.Status)
	default:
		if t.Progress.Total != nil {
			return ClampPercent(*t.Progress.Total)
		}
		return doneOrZero(t.Status)
	}
}

func doneOrZero(s Status) int {
	if s == StatusSucceeded {
		return 100
	}
	return 0
}

// ErrorGroup collects the tasks that failed with the same error.
type ErrorGroup struct {
	Message string   `json:"message"`
	Count   int      `json:"count"`
	TaskIDs []string `json:"task_ids"`
}

// GroupProgress is derived from a batch of tasks and never persisted.
type GroupProgress struct {
	TotalTasks int `json:"total_tasks"`
	Pending    int `json:"pending"`
	Running    int `json:"running"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Canceled   int `json:"canceled"`
	Paused     int `json:"paused"`
	// Completed counts every terminal task, so Percentage measures how much
	// of the batch has finished rather than how much succeeded.
	Completed    int                    `json:"completed"`
	Percentage   int                    `json:"percentage"`
	TaskProgress map[string]int         `json:"task_progress"`
	Errors       map[string]*ErrorGroup `json:"errors"`
}

// ComputeGroupProgress aggregates tasks. An empty slice yields a zero result.
func ComputeGroupProgress(tasks []Task) GroupProgress {
	gp := GroupProgress{
		TotalTasks:   len(tasks),
		TaskProgress: make(map[string]int, len(tasks)),
		Errors:       make(map[string]*ErrorGroup),
	}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			gp.Pending++
		case StatusRunning:
			gp.Running++
		case StatusSucceeded:
			gp.Succeeded++
		case StatusFailed:
			gp.Failed++
		case StatusCanceled:
			gp.Canceled++
		case StatusPaused:
			gp.Paused++
		}
		gp.TaskProgress[t.ID] = ComputeTaskProgress(t)

		if t.Error == nil {
			continue
		}
		key := errorKey(t.Error)
		if key == "" {
			continue
		}
		group, ok := gp.Errors[key]
		if !ok {
			group = &ErrorGroup{Message: t.Error.Message}
			gp.Errors[key] = group
		}
		group.Count++
		group.TaskIDs = append(group.TaskIDs, t.ID)
	}
	gp.Completed = gp.Succeeded + gp.Failed + gp.Canceled
	if gp.TotalTasks > 0 {
		gp.Percentage = int(math.Round(float64(gp.Completed) / float64(gp.TotalTasks) * 100))
	}
	return gp
}

func errorKey(e *Error) string {
	if e.Code != "" {
		return e.Code
	}
	return e.Message
}
