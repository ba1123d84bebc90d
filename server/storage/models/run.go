package models

// RunSummary is the runs table row without the full document. Lists and
// dashboards read these; the run detail endpoint loads the document.
type RunSummary struct {
	ID           string `json:"id"`
	WorkflowID   int64  `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	Number       int64  `json:"number"`
	Event        string `json:"event"`
	Status       string `json:"status"`
	Node         string `json:"node"`
	CreatedAt    int64  `json:"created_at"`
	StartedAt    int64  `json:"started_at"`
	FinishedAt   int64  `json:"finished_at"`
}
