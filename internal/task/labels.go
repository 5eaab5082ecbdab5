package task

var statusLabels = map[Status]string{
	StatusPending:   "Pending",
	StatusRunning:   "Running",
	StatusSucceeded: "Succeeded",
	StatusFailed:    "Failed",
	StatusCanceled:  "Canceled",
	StatusPaused:    "Paused",
}

var typeLabels = map[Type]string{
	TypeUploadDocument: "Upload document",
	TypeParseDocument:  "Parse document",
	TypeDeleteDocument: "Delete document",
	TypeRunWorkflow:    "Run workflow",
}

// StatusLabel returns a display name for s, falling back to the raw value.
func StatusLabel(s Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// TypeLabel returns a display name for t, falling back to the raw value.
func TypeLabel(t Type) string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return string(t)
}
