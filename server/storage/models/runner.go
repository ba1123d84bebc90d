package models

// RunnerNode tracks a runner known from its heartbeats.
type RunnerNode struct {
	Node     string `json:"node"`
	Version  string `json:"version"`
	Capacity int    `json:"capacity"`
	LastSeen int64  `json:"last_seen"`
}
