package messaging

import (
	"github.com/gantryci/gantry/pkg/workflow"
)

// Commands a RunEvent can carry.
const (
	RunCmdStarted = iota
	RunCmdStepUpdate
	RunCmdCellUpdate
	RunCmdFinished
)

// RunDispatch hands a planned run to a runner. The workflow travels as the
// raw document so the runner compiles it with its own toolchain instead of
// trusting a pre-chewed structure.
type RunDispatch struct {
	Run      *workflow.Run `json:"run"`
	Workflow []byte        `json:"workflow"`
	Repo     string        `json:"repo,omitempty"`
}

type RunCancel struct {
	RunID string `json:"run_id"`
}

// RunEvent reports a state transition back to the server. StepIndex is
// only meaningful for step updates; ExitCode and Class only for terminal
// statuses.
type RunEvent struct {
	Cmd       int                   `json:"cmd"`
	RunID     string                `json:"run_id"`
	CellID    string                `json:"cell_id,omitempty"`
	StepIndex int                   `json:"step_index,omitempty"`
	Status    workflow.Status       `json:"status"`
	ExitCode  int                   `json:"exit_code,omitempty"`
	Class     workflow.FailureClass `json:"class,omitempty"`
	Node      string                `json:"node,omitempty"`
	At        int64                 `json:"at"`
}

// LogChunk is one step output line on its way to storage and live
// subscribers.
type LogChunk struct {
	RunID     string `json:"run_id"`
	CellID    string `json:"cell_id"`
	StepIndex int    `json:"step_index"`
	Stream    string `json:"stream"`
	Line      string `json:"line"`
	At        int64  `json:"at"`
}

// RunnerHello announces a runner joining and its heartbeats.
type RunnerHello struct {
	Node     string `json:"node"`
	Version  string `json:"version"`
	Capacity int    `json:"capacity"`
	At       int64  `json:"at"`
}
