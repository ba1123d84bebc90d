// Package dispatch plans runs, hands them to runners over NATS and feeds
// what the runners report back into storage and the live stream.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/storage"
	"github.com/gantryci/gantry/server/storage/models"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type Dispatcher struct {
	nc  *nats.Conn
	log *logrus.Entry
}

func NewDispatcher(nc *nats.Conn, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{nc: nc, log: logger}
}

// Dispatch plans a run of the stored workflow for the event, persists the
// pending tree and offers it to the runner queue. The raw YAML travels
// with the dispatch so the runner compiles exactly what was applied.
func (d *Dispatcher) Dispatch(wf *models.Workflow, ev workflow.Event) (*workflow.Run, error) {
	compiled, err := workflow.CompileBytes([]byte(wf.RawData))
	if err != nil {
		return nil, fmt.Errorf("workflow %q no longer compiles: %w", wf.Name, err)
	}
	run, err := workflow.Plan(compiled, ev)
	if err != nil {
		return nil, err
	}
	run.WorkflowID = wf.ID
	run.WorkflowName = wf.Name

	number, err := storage.NextRunNumber(wf.ID)
	if err != nil {
		return nil, err
	}
	run.Number = number

	if err := storage.InsertRun(run); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(&messaging.RunDispatch{
		Run:      run,
		Workflow: []byte(wf.RawData),
		Repo:     wf.Repo,
	})
	if err != nil {
		return nil, err
	}
	if err := d.nc.Publish(messaging.RUN_DISPATCH, payload); err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"workflow": wf.Name,
		"run":      run.ID,
		"number":   run.Number,
		"event":    ev.Kind,
	}).Info("run dispatched")
	return run, nil
}

// Cancel asks whichever runner holds the run to stop it.
func (d *Dispatcher) Cancel(runID string) error {
	payload, err := json.Marshal(&messaging.RunCancel{RunID: runID})
	if err != nil {
		return err
	}
	return d.nc.Publish(messaging.RUN_CANCEL, payload)
}
