package httpserver

import (
	"expvar"
	"sync"

	"github.com/gantryci/gantry/pkg/extcron"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/httpserver/dispatch"
	"github.com/gantryci/gantry/server/httpserver/events"
	"github.com/gantryci/gantry/server/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var schedulerStarted = expvar.NewInt("scheduler_started")

// Scheduler fires schedule-triggered workflows. It stores the cron engine
// and rebuilds its entries whenever the stored workflows change.
type Scheduler struct {
	// mu is to prevent concurrent edits to Cron and started
	mu         sync.RWMutex
	Cron       *cron.Cron
	started    bool
	dispatcher *dispatch.Dispatcher
	log        *logrus.Entry
}

func NewScheduler(d *dispatch.Dispatcher, logger *logrus.Entry) *Scheduler {
	schedulerStarted.Set(0)
	return &Scheduler{
		Cron:       cron.New(cron.WithParser(extcron.NewParser())),
		dispatcher: d,
		log:        logger,
	}
}

// Run loads the entries and keeps them in step with the stored workflows
// until stop closes.
func (s *Scheduler) Run(stop chan struct{}) {
	s.Restart()
	for {
		select {
		case <-stop:
			s.Stop()
			return
		case <-events.WorkflowsChanged():
			s.Restart()
		}
	}
}

// Restart throws the current entries away and rebuilds them from the
// active workflows.
func (s *Scheduler) Restart() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cron = cron.New(cron.WithParser(extcron.NewParser()))
	s.load()
	s.Cron.Start()
	s.started = true
	schedulerStarted.Set(1)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.Cron.Stop()
		s.started = false
		schedulerStarted.Set(0)
	}
}

func (s *Scheduler) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Scheduler) load() {
	wfs, err := storage.ActiveWorkflows()
	if err != nil {
		s.log.WithError(err).Error("load workflows for scheduling")
		return
	}
	entries := 0
	for _, wf := range wfs {
		compiled, err := workflow.CompileBytes([]byte(wf.RawData))
		if err != nil {
			s.log.WithError(err).WithField("workflow", wf.Name).Warn("stored workflow does not compile")
			continue
		}
		id := wf.ID
		for _, st := range compiled.On.Schedule {
			if _, err := s.Cron.AddFunc(st.Cron, func() { s.fire(id) }); err != nil {
				s.log.WithError(err).WithField("workflow", wf.Name).Warn("bad cron expression")
				continue
			}
			entries++
		}
	}
	s.log.WithField("entries", entries).Info("scheduler loaded")
}

// fire reloads the workflow so a tick of a stale entry cannot run a
// deleted or deactivated document.
func (s *Scheduler) fire(workflowID int64) {
	wf, err := storage.GetWorkflow(workflowID)
	if err != nil {
		s.log.WithError(err).Warn("scheduled workflow vanished")
		return
	}
	if !wf.Active {
		return
	}
	ev := workflow.Event{
		Kind: workflow.EventSchedule,
		Repo: wf.Repo,
	}
	if _, err := s.dispatcher.Dispatch(wf, ev); err != nil {
		s.log.WithError(err).WithField("workflow", wf.Name).Error("scheduled dispatch")
	}
}
