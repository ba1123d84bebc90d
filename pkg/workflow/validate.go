package workflow

import (
	"fmt"

	"github.com/gantryci/gantry/pkg/dag"
	"github.com/gantryci/gantry/pkg/helper"
)

// Actions the runner ships with. The executor registry on the runner side
// registers exactly these names.
var builtinActions = map[string]bool{
	"checkout":     true,
	"setup-python": true,
	"cache":        true,
}

var knownShells = map[string]bool{
	"":     true,
	"bash": true,
	"sh":   true,
}

// KnownAction reports whether name refers to a built-in action, ignoring a
// trailing @version.
func KnownAction(name string) bool {
	return builtinActions[ActionName(name)]
}

// ActionName strips an @version suffix from an action reference.
func ActionName(ref string) string {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '@' {
			return ref[:i]
		}
	}
	return ref
}

// Validate checks the structural rules a workflow must satisfy before it
// can be applied: at least one trigger and one job, slug identifiers,
// run/uses exclusive per step, needs edges that form a DAG, and matrix
// axes with at least one value.
func (wf *WorkflowFile) Validate() error {
	if wf.On.Empty() {
		return fmt.Errorf("workflow %q declares no trigger", wf.Name)
	}
	for _, st := range wf.On.Schedule {
		if st.Cron == "" {
			return fmt.Errorf("workflow %q: schedule trigger without cron expression", wf.Name)
		}
	}
	if wf.Jobs.Len() == 0 {
		return fmt.Errorf("workflow %q has no jobs", wf.Name)
	}

	err := wf.Jobs.Range(func(id string, job *Job) error {
		if ok, bad := helper.IsSlug(id); !ok {
			return fmt.Errorf("job id %q contains illegal character %q", id, bad)
		}
		if job == nil || len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", id)
		}
		for _, need := range job.Needs {
			if !wf.Jobs.Exists(need) {
				return fmt.Errorf("job %q needs unknown job %q", id, need)
			}
		}
		if err := validateStrategy(id, job.Strategy); err != nil {
			return err
		}
		for i, step := range job.Steps {
			if err := validateStep(id, i, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := wf.JobOrder(); err != nil {
		return fmt.Errorf("workflow %q: %w", wf.Name, err)
	}
	return nil
}

func validateStrategy(jobID string, s *Strategy) error {
	if s == nil || s.Matrix == nil {
		return nil
	}
	if s.MaxParallel < 0 {
		return fmt.Errorf("job %q: max-parallel must not be negative", jobID)
	}
	if s.Matrix.Axes.Len() == 0 && len(s.Matrix.Include) == 0 {
		return fmt.Errorf("job %q declares an empty matrix", jobID)
	}
	return s.Matrix.Axes.Range(func(axis string, values []string) error {
		if ok, bad := helper.IsSlug(axis); !ok {
			return fmt.Errorf("job %q: matrix axis %q contains illegal character %q", jobID, axis, bad)
		}
		if len(values) == 0 {
			return fmt.Errorf("job %q: matrix axis %q has no values", jobID, axis)
		}
		return nil
	})
}

func validateStep(jobID string, idx int, step *Step) error {
	if step == nil {
		return fmt.Errorf("job %q: step %d is empty", jobID, idx+1)
	}
	if step.Run == "" && step.Uses == "" {
		return fmt.Errorf("job %q: step %d declares neither run nor uses", jobID, idx+1)
	}
	if step.Run != "" && step.Uses != "" {
		return fmt.Errorf("job %q: step %d declares both run and uses", jobID, idx+1)
	}
	if step.Uses != "" && !KnownAction(step.Uses) {
		return fmt.Errorf("job %q: step %d uses unknown action %q", jobID, idx+1, step.Uses)
	}
	if step.ID != "" {
		if ok, bad := helper.IsSlug(step.ID); !ok {
			return fmt.Errorf("job %q: step id %q contains illegal character %q", jobID, step.ID, bad)
		}
	}
	if !knownShells[step.Shell] {
		return fmt.Errorf("job %q: step %d uses unknown shell %q", jobID, idx+1, step.Shell)
	}
	if step.TimeoutMinutes < 0 {
		return fmt.Errorf("job %q: step %d timeout must not be negative", jobID, idx+1)
	}
	return nil
}

// JobOrder returns the job ids in a valid execution order. Independent jobs
// keep their declaration order.
func (wf *WorkflowFile) JobOrder() ([]string, error) {
	g := dag.NewGraph()
	for _, id := range wf.Jobs.Keys() {
		if err := g.AddVertex(id); err != nil {
			return nil, err
		}
	}
	err := wf.Jobs.Range(func(id string, job *Job) error {
		for _, need := range job.Needs {
			if err := g.AddEdge(need, id); err != nil {
				return fmt.Errorf("job %q: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g.Sort()
}
