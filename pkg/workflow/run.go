package workflow

import (
	"fmt"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Passed reports whether the status counts as passing when a dependent job
// decides whether to start.
func (s Status) Passed() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// FailureClass tells apart why a step failed: the environment could not be
// provisioned, the command itself exited non-zero, the step ran out of
// time, or gantry itself broke.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureProvision FailureClass = "provision"
	FailureCommand   FailureClass = "command"
	FailureTimeout   FailureClass = "timeout"
	FailureInternal  FailureClass = "internal"
)

type Run struct {
	ID           string    `json:"id"`
	WorkflowID   int64     `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	Number       int64     `json:"number"`
	Event        Event     `json:"event"`
	Status       Status    `json:"status"`
	Jobs         []*JobRun `json:"jobs"`
	CreatedAt    int64     `json:"created_at"`
	StartedAt    int64     `json:"started_at,omitempty"`
	FinishedAt   int64     `json:"finished_at,omitempty"`
}

type JobRun struct {
	ID     string     `json:"id"`
	JobID  string     `json:"job_id"`
	Name   string     `json:"name"`
	Needs  []string   `json:"needs,omitempty"`
	Status Status     `json:"status"`
	Cells  []*CellRun `json:"cells"`
}

type CellRun struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Cell         Cell         `json:"cell"`
	RunsOn       string       `json:"runs_on"`
	Status       Status       `json:"status"`
	FailureClass FailureClass `json:"failure_class,omitempty"`
	Steps        []*StepRun   `json:"steps"`
	StartedAt    int64        `json:"started_at,omitempty"`
	FinishedAt   int64        `json:"finished_at,omitempty"`
}

type StepRun struct {
	Index        int          `json:"index"`
	Name         string       `json:"name"`
	Uses         string       `json:"uses,omitempty"`
	Status       Status       `json:"status"`
	ExitCode     int          `json:"exit_code"`
	FailureClass FailureClass `json:"failure_class,omitempty"`
	StartedAt    int64        `json:"started_at,omitempty"`
	FinishedAt   int64        `json:"finished_at,omitempty"`
}

// Plan builds the pending run tree for a triggering event: jobs in
// dependency order, each fanned out into its matrix cells, each cell
// carrying one StepRun per declared step.
func Plan(wf *WorkflowFile, ev Event) (*Run, error) {
	order, err := wf.JobOrder()
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:           uuid.NewString(),
		WorkflowName: wf.Name,
		Event:        ev,
		Status:       StatusPending,
		CreatedAt:    helper.UnixNow(),
	}

	for _, jobID := range order {
		job := wf.Jobs.Get(jobID)
		if job == nil {
			return nil, fmt.Errorf("job %q vanished during planning", jobID)
		}
		name := job.Name
		if name == "" {
			name = jobID
		}
		jr := &JobRun{
			ID:     uuid.NewString(),
			JobID:  jobID,
			Name:   name,
			Needs:  job.Needs,
			Status: StatusPending,
		}
		for _, cell := range Expand(job.Strategy) {
			cr := &CellRun{
				ID:     uuid.NewString(),
				Name:   cellRunName(name, cell),
				Cell:   cell,
				RunsOn: job.RunsOn,
				Status: StatusPending,
			}
			for i, step := range job.Steps {
				cr.Steps = append(cr.Steps, &StepRun{
					Index:  i,
					Name:   step.DisplayName(),
					Uses:   step.Uses,
					Status: StatusPending,
				})
			}
			jr.Cells = append(jr.Cells, cr)
		}
		run.Jobs = append(run.Jobs, jr)
	}
	return run, nil
}

func cellRunName(jobName string, cell Cell) string {
	label := cell.Label()
	if label == "" {
		return jobName
	}
	return fmt.Sprintf("%s (%s)", jobName, label)
}

// Aggregate folds child statuses into the parent status. Any running child
// keeps the parent running, a pending child next to finished siblings also
// reads as running, and among terminal children failure wins over
// cancelled, which wins over success. Only an all-skipped set is skipped.
// With fail-fast a job ends up holding one failed cell and cancelled
// siblings; the failure is the verdict that matters.
func Aggregate(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusSuccess
	}
	var anyRunning, anyPending, anyTerminal, anyFailure, anyCancelled bool
	allSkipped := true
	for _, s := range statuses {
		switch s {
		case StatusRunning:
			anyRunning = true
		case StatusPending:
			anyPending = true
		case StatusFailure:
			anyFailure = true
		case StatusCancelled:
			anyCancelled = true
		}
		if s.Terminal() {
			anyTerminal = true
		}
		if s != StatusSkipped {
			allSkipped = false
		}
	}
	if anyRunning {
		return StatusRunning
	}
	if anyPending {
		if anyTerminal {
			return StatusRunning
		}
		return StatusPending
	}
	if anyFailure {
		return StatusFailure
	}
	if anyCancelled {
		return StatusCancelled
	}
	if allSkipped {
		return StatusSkipped
	}
	return StatusSuccess
}

// Recompute rolls step statuses up into cells, cells into jobs and jobs
// into the run status. Cells that already hold a terminal verdict keep it,
// so a cell failed before its steps ran stays failed.
func (r *Run) Recompute() {
	jobStatuses := make([]Status, 0, len(r.Jobs))
	for _, jr := range r.Jobs {
		cellStatuses := make([]Status, 0, len(jr.Cells))
		for _, cr := range jr.Cells {
			if !cr.Status.Terminal() {
				stepStatuses := make([]Status, 0, len(cr.Steps))
				for _, sr := range cr.Steps {
					stepStatuses = append(stepStatuses, sr.Status)
				}
				cr.Status = Aggregate(stepStatuses)
			}
			cellStatuses = append(cellStatuses, cr.Status)
		}
		jr.Status = Aggregate(cellStatuses)
		jobStatuses = append(jobStatuses, jr.Status)
	}
	r.Status = Aggregate(jobStatuses)
}

// Job returns the job run with the given job id, or nil.
func (r *Run) Job(jobID string) *JobRun {
	for _, jr := range r.Jobs {
		if jr.JobID == jobID {
			return jr
		}
	}
	return nil
}

// Cell returns the cell run with the given id, or nil.
func (r *Run) Cell(cellID string) *CellRun {
	for _, jr := range r.Jobs {
		for _, cr := range jr.Cells {
			if cr.ID == cellID {
				return cr
			}
		}
	}
	return nil
}
