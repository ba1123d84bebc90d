package models

// Workflow is a registered pipeline definition. RawData keeps the YAML
// document exactly as applied; runs compile from it so a later edit never
// rewrites history.
type Workflow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Repo      string `json:"repo"`
	RawData   string `json:"raw_data"`
	Active    bool   `json:"active"`
	RunSeq    int64  `json:"run_seq"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}
