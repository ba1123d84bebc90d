// Package runner is the agent that executes dispatched runs. It subscribes
// to the dispatch queue, drives each run through a worker and reports
// progress back over NATS.
package runner

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/runner/executor"
	"github.com/gantryci/gantry/server/storage/logstore"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
)

type Runner struct {
	conf    *Configs
	log     *logrus.Entry
	version string

	store    *Store
	logs     *logstore.Store
	registry *executor.Registry
	cache    *executor.Cache
	slots    chan struct{}

	nc   *nats.Conn
	pool *ants.PoolWithFunc

	mu      sync.Mutex
	workers map[string]*Worker
}

// New assembles a runner from its config: executor registry, local run
// state, log store and the cell concurrency limit.
func New(conf *Configs, version string) (*Runner, error) {
	log := logger.InitLogger(conf.Runner.LogLevel, "runner")

	store, err := NewStore(conf.Runner.StatePath, log)
	if err != nil {
		return nil, err
	}

	cache := executor.NewCache(conf.Runner.CacheDir, log)
	registry := executor.NewRegistry()
	registry.Register(executor.NewShell(log))
	registry.Register(executor.NewDocker(log))
	registry.Register(executor.NewCheckout(log))
	registry.Register(executor.NewSetupPython(conf.Runner.ToolchainRoot, log))
	registry.Register(cache)

	return &Runner{
		conf:     conf,
		log:      log,
		version:  version,
		store:    store,
		logs:     logstore.NewStore(conf.Runner.LogDir),
		registry: registry,
		cache:    cache,
		slots:    make(chan struct{}, conf.Runner.MaxConcurrentCells),
		workers:  make(map[string]*Worker),
	}, nil
}

// Start connects to NATS, recovers runs interrupted by a previous crash and
// serves dispatches until a signal arrives.
func (r *Runner) Start() error {
	ns := messaging.NewNatsSub(&messaging.NatsSubConfig{
		URL:           r.conf.Nats.URL,
		Name:          r.conf.Nats.Name,
		ReconnectWait: r.conf.ReconnectWait(),
		MaxReconnects: r.conf.Nats.MaxReconnects,
		Logger:        r.log,
	})
	nc, err := ns.Connect()
	if err != nil {
		return err
	}
	r.nc = nc
	defer nc.Drain()

	r.recover()

	// Invoke blocks when every slot is busy, which stops this runner from
	// consuming the dispatch queue and lets idle runners take the work.
	pool, err := ants.NewPoolWithFunc(r.conf.Runner.MaxConcurrentCells, r.execute, ants.WithPreAlloc(true))
	if err != nil {
		return err
	}
	defer pool.Release()
	r.pool = pool

	if _, err := nc.QueueSubscribe(messaging.RUN_DISPATCH, messaging.RUNNER_QUEUE, r.onDispatch); err != nil {
		return err
	}
	if _, err := nc.Subscribe(messaging.RUN_CANCEL, r.onCancel); err != nil {
		return err
	}
	nc.Flush()

	stop := make(chan struct{})
	go r.heartbeat(stop)

	r.log.WithFields(logrus.Fields{
		"node":  r.conf.Runner.Node,
		"cells": r.conf.Runner.MaxConcurrentCells,
		"nats":  r.conf.Nats.URL,
	}).Info("runner started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	close(stop)

	r.log.Warn("runner stopping, cancelling in-flight runs")
	r.mu.Lock()
	for _, w := range r.workers {
		w.Cancel()
	}
	r.mu.Unlock()

	return r.store.Close()
}

func (r *Runner) onDispatch(msg *nats.Msg) {
	dispatch := &messaging.RunDispatch{}
	if err := json.Unmarshal(msg.Data, dispatch); err != nil {
		r.log.WithError(err).Error("undecodable dispatch")
		return
	}
	if err := r.pool.Invoke(dispatch); err != nil {
		r.log.WithError(err).Error("dispatch rejected")
	}
}

func (r *Runner) onCancel(msg *nats.Msg) {
	cancel := &messaging.RunCancel{}
	if err := json.Unmarshal(msg.Data, cancel); err != nil {
		r.log.WithError(err).Error("undecodable cancel")
		return
	}
	r.mu.Lock()
	w := r.workers[cancel.RunID]
	r.mu.Unlock()
	if w == nil {
		return
	}
	r.log.WithField("run_id", cancel.RunID).Warn("cancelling run")
	w.Cancel()
}

func (r *Runner) execute(payload interface{}) {
	dispatch, ok := payload.(*messaging.RunDispatch)
	if !ok {
		return
	}

	w, err := NewWorker(dispatch, &WorkerConfig{
		Node:          r.conf.Runner.Node,
		WorkspaceRoot: r.conf.Runner.WorkspaceRoot,
		Logger:        r.log,
		Registry:      r.registry,
		Cache:         r.cache,
		Reporter:      &natsReporter{nc: r.nc, log: r.log},
		Store:         r.store,
		Logs:          r.logs,
		CellSlots:     r.slots,
	})
	if err != nil {
		r.log.WithError(err).Error("rejecting dispatch")
		r.rejectDispatch(dispatch)
		return
	}

	r.mu.Lock()
	r.workers[w.RunID()] = w
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.workers, w.RunID())
		r.mu.Unlock()
	}()

	w.Run()
}

// rejectDispatch tells the server a run died before a worker could form,
// typically because the workflow no longer compiles.
func (r *Runner) rejectDispatch(dispatch *messaging.RunDispatch) {
	if dispatch.Run == nil {
		return
	}
	ev := &messaging.RunEvent{
		Cmd:    messaging.RunCmdFinished,
		RunID:  dispatch.Run.ID,
		Status: workflow.StatusFailure,
		Class:  workflow.FailureInternal,
		Node:   r.conf.Runner.Node,
		At:     helper.UnixNow(),
	}
	if b, err := json.Marshal(ev); err == nil {
		r.nc.Publish(messaging.RUN_EVENT, b)
	}
}

// recover settles runs this node held when it last died. The work is gone,
// so they finish as internal failures.
func (r *Runner) recover() {
	runs, err := r.store.ActiveRuns()
	if err != nil {
		r.log.WithError(err).Warn("crash recovery scan failed")
		return
	}
	for _, run := range runs {
		for _, jr := range run.Jobs {
			for _, cr := range jr.Cells {
				if !cr.Status.Terminal() {
					cr.Status = workflow.StatusFailure
					cr.FailureClass = workflow.FailureInternal
				}
			}
		}
		run.Recompute()
		run.Status = workflow.StatusFailure
		run.FinishedAt = helper.UnixNow()
		if err := r.store.SaveRun(run); err != nil {
			r.log.WithError(err).WithField("run_id", run.ID).Warn("crash recovery save failed")
		}
		ev := &messaging.RunEvent{
			Cmd:    messaging.RunCmdFinished,
			RunID:  run.ID,
			Status: workflow.StatusFailure,
			Class:  workflow.FailureInternal,
			Node:   r.conf.Runner.Node,
			At:     helper.UnixNow(),
		}
		if b, err := json.Marshal(ev); err == nil {
			r.nc.Publish(messaging.RUN_EVENT, b)
		}
		r.log.WithField("run_id", run.ID).Warn("marked interrupted run failed")
	}
}

func (r *Runner) heartbeat(stop chan struct{}) {
	tick := time.NewTicker(time.Duration(r.conf.Runner.HeartbeatSeconds) * time.Second)
	defer tick.Stop()
	r.hello()
	for {
		select {
		case <-tick.C:
			r.hello()
		case <-stop:
			return
		}
	}
}

func (r *Runner) hello() {
	hello := &messaging.RunnerHello{
		Node:     r.conf.Runner.Node,
		Version:  r.version,
		Capacity: r.conf.Runner.MaxConcurrentCells,
		At:       helper.UnixNow(),
	}
	b, err := json.Marshal(hello)
	if err != nil {
		return
	}
	if err := r.nc.Publish(messaging.RUNNER_HELLO, b); err != nil {
		r.log.WithError(err).Warn("heartbeat publish failed")
	}
}
