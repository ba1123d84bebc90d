package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/pkg/expr"
	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/runner/executor"
	"github.com/gantryci/gantry/server/storage/logstore"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reporter receives run progress. The distributed runner publishes to NATS,
// the local CLI prints to the console.
type Reporter interface {
	Event(ev *messaging.RunEvent)
	Log(chunk *messaging.LogChunk)
}

// DiscardReporter drops everything. Useful in tests that only inspect the
// final run state.
type DiscardReporter struct{}

func (DiscardReporter) Event(*messaging.RunEvent) {}
func (DiscardReporter) Log(*messaging.LogChunk)   {}

// WorkerConfig carries the shared pieces a worker needs. One config is built
// by the runner (or the local CLI) and reused across workers.
type WorkerConfig struct {
	Node          string
	WorkspaceRoot string
	// InPlace executes every cell directly in WorkspaceRoot instead of a
	// per-cell directory. Local runs use it to build the checked-out tree.
	InPlace  bool
	Logger   *logrus.Entry
	Registry *executor.Registry
	Cache    *executor.Cache
	Reporter Reporter
	Store    *Store
	Logs     *logstore.Store
	// CellSlots bounds cell concurrency across all runs on this node.
	CellSlots chan struct{}
}

// Worker drives a single dispatched run to completion: jobs in dependency
// order, cells of one job in parallel, steps of one cell in sequence.
type Worker struct {
	wf   *workflow.WorkflowFile
	run  *workflow.Run
	repo string
	conf *WorkerConfig
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
}

// NewWorker compiles the dispatched workflow and prepares a worker for it.
func NewWorker(dispatch *messaging.RunDispatch, conf *WorkerConfig) (*Worker, error) {
	wf, err := workflow.CompileBytes(dispatch.Workflow)
	if err != nil {
		return nil, fmt.Errorf("worker: compile workflow: %w", err)
	}
	if dispatch.Run == nil {
		return nil, fmt.Errorf("worker: dispatch carries no run")
	}
	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		wf:     wf,
		run:    dispatch.Run,
		repo:   dispatch.Repo,
		conf:   conf,
		log:    logger.WithField("run_id", dispatch.Run.ID),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// RunID names the run this worker owns.
func (w *Worker) RunID() string { return w.run.ID }

// Cancel stops the run. In-flight steps are interrupted, everything not yet
// started is marked cancelled.
func (w *Worker) Cancel() { w.cancel() }

// Run executes the whole run and returns once every job has settled. The
// returned error covers worker-internal trouble only; build failures are
// recorded on the run itself.
func (w *Worker) Run() error {
	defer w.cancel()

	w.mu.Lock()
	w.run.Status = workflow.StatusRunning
	w.run.StartedAt = helper.UnixNow()
	w.mu.Unlock()
	w.persist()
	w.reportRun(messaging.RunCmdStarted)

	// Jobs start as soon as their needs have settled. A done channel per job
	// carries that signal to the dependents.
	done := make(map[string]chan struct{}, len(w.run.Jobs))
	for _, jr := range w.run.Jobs {
		done[jr.JobID] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, jr := range w.run.Jobs {
		jr := jr
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[jr.JobID])
			for _, need := range jr.Needs {
				ch, ok := done[need]
				if !ok {
					continue
				}
				select {
				case <-ch:
				case <-w.ctx.Done():
				}
			}
			w.runJob(jr)
		}()
	}
	wg.Wait()

	w.mu.Lock()
	w.run.Recompute()
	if !w.run.Status.Terminal() {
		w.run.Status = workflow.StatusFailure
	}
	w.run.FinishedAt = helper.UnixNow()
	w.mu.Unlock()
	w.persist()
	w.reportRun(messaging.RunCmdFinished)

	w.log.WithFields(logrus.Fields{
		"status":   w.run.Status,
		"duration": time.Duration(w.run.FinishedAt-w.run.StartedAt) * time.Second,
	}).Info("run finished")
	return nil
}

func (w *Worker) runJob(jr *workflow.JobRun) {
	job := w.wf.Jobs.Get(jr.JobID)
	if job == nil {
		w.failJob(jr, workflow.FailureInternal)
		return
	}

	if w.ctx.Err() != nil {
		w.skipJob(jr, workflow.StatusCancelled)
		return
	}
	if !w.needsPassed(jr) {
		w.skipJob(jr, workflow.StatusSkipped)
		return
	}

	if job.If != "" {
		run, err := expr.EvalBool(job.If, w.jobScope(job))
		if err != nil {
			w.log.WithError(err).WithField("job", jr.JobID).Error("job condition failed to evaluate")
			w.failJob(jr, workflow.FailureInternal)
			return
		}
		if !run {
			w.skipJob(jr, workflow.StatusSkipped)
			return
		}
	}

	w.setJobStatus(jr, workflow.StatusRunning)

	// Fail-fast cancels the job's other cells on the first failure. Cells
	// stay independent unless the workflow opts in.
	jobCtx := w.ctx
	var jobCancel context.CancelFunc
	if job.Strategy != nil && job.Strategy.FailFast {
		jobCtx, jobCancel = context.WithCancel(w.ctx)
		defer jobCancel()
	}

	var g errgroup.Group
	if job.Strategy != nil && job.Strategy.MaxParallel > 0 {
		g.SetLimit(job.Strategy.MaxParallel)
	}
	for _, cr := range jr.Cells {
		cr := cr
		g.Go(func() error {
			w.runCell(jobCtx, job, cr)
			if jobCancel != nil {
				w.mu.Lock()
				failed := cr.Status == workflow.StatusFailure
				w.mu.Unlock()
				if failed {
					jobCancel()
				}
			}
			return nil
		})
	}
	g.Wait()

	w.mu.Lock()
	jr.Status = workflow.Aggregate(cellStatuses(jr))
	w.mu.Unlock()
	w.persist()
}

func (w *Worker) runCell(ctx context.Context, job *workflow.Job, cr *workflow.CellRun) {
	if ctx.Err() != nil {
		w.skipCell(cr, workflow.StatusCancelled)
		return
	}

	if w.conf.CellSlots != nil {
		select {
		case w.conf.CellSlots <- struct{}{}:
			defer func() { <-w.conf.CellSlots }()
		case <-ctx.Done():
			w.skipCell(cr, workflow.StatusCancelled)
			return
		}
	}

	workspace, err := w.workspace(cr)
	if err != nil {
		w.log.WithError(err).WithField("cell", cr.Name).Error("workspace setup failed")
		w.failCell(cr, workflow.FailureInternal)
		return
	}

	var logw *logstore.Writer
	if w.conf.Logs != nil {
		logw, err = w.conf.Logs.OpenWriter(w.run.ID, cr.ID)
		if err != nil {
			w.log.WithError(err).WithField("cell", cr.Name).Warn("log store unavailable, streaming only")
		} else {
			defer logw.Close()
		}
	}

	w.mu.Lock()
	cr.Status = workflow.StatusRunning
	cr.StartedAt = helper.UnixNow()
	w.mu.Unlock()
	w.persist()
	w.reportCell(cr)

	env := w.cellEnv(job, cr, workspace)
	exprEnv := copyEnv(env)

	container := job.Container
	if container != "" {
		container, err = expr.Expand(container, w.cellScope(cr, exprEnv, workflow.StatusSuccess))
		if err != nil {
			w.log.WithError(err).WithField("cell", cr.Name).Error("container expression failed")
			w.failCell(cr, workflow.FailureInternal)
			return
		}
	}

	// Verdict of the cell so far. Step conditions read it through success(),
	// failure() and always().
	verdict := workflow.StatusSuccess
	var pendingSaves []*executor.Spec

	for i, step := range job.Steps {
		sr := cr.Steps[i]

		if ctx.Err() != nil {
			w.setStepStatus(cr, sr, workflow.StatusCancelled, 0, workflow.FailureNone)
			if verdict != workflow.StatusFailure {
				verdict = workflow.StatusCancelled
			}
			continue
		}

		scope := w.cellScope(cr, exprEnv, verdict)
		cond := step.If
		if cond == "" {
			cond = "success()"
		}
		match, err := expr.EvalBool(cond, scope)
		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{"cell": cr.Name, "step": step.DisplayName()}).
				Error("step condition failed to evaluate")
			w.setStepStatus(cr, sr, workflow.StatusFailure, 0, workflow.FailureInternal)
			if verdict == workflow.StatusSuccess {
				verdict = workflow.StatusFailure
				w.setCellClass(cr, workflow.FailureInternal)
			}
			continue
		}
		if !match {
			w.setStepStatus(cr, sr, workflow.StatusSkipped, 0, workflow.FailureNone)
			continue
		}

		spec, err := w.stepSpec(job, cr, step, i, env, workspace, container, scope)
		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{"cell": cr.Name, "step": step.DisplayName()}).
				Error("step expansion failed")
			w.setStepStatus(cr, sr, workflow.StatusFailure, 0, workflow.FailureInternal)
			if verdict == workflow.StatusSuccess {
				verdict = workflow.StatusFailure
				w.setCellClass(cr, workflow.FailureInternal)
			}
			continue
		}

		exe, err := w.executorFor(step, container)
		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{"cell": cr.Name, "step": step.DisplayName()}).
				Error("no executor for step")
			w.setStepStatus(cr, sr, workflow.StatusFailure, 0, workflow.FailureInternal)
			if verdict == workflow.StatusSuccess {
				verdict = workflow.StatusFailure
				w.setCellClass(cr, workflow.FailureInternal)
			}
			continue
		}

		w.mu.Lock()
		sr.Status = workflow.StatusRunning
		sr.StartedAt = helper.UnixNow()
		w.mu.Unlock()
		w.reportStep(cr, sr)

		sink := w.sink(cr, i, logw)
		res, err := exe.Execute(ctx, spec, sink)

		w.mu.Lock()
		sr.FinishedAt = helper.UnixNow()
		w.mu.Unlock()

		switch {
		case err != nil && ctx.Err() != nil:
			w.setStepStatus(cr, sr, workflow.StatusCancelled, 0, workflow.FailureNone)
			if verdict != workflow.StatusFailure {
				verdict = workflow.StatusCancelled
			}
		case err != nil:
			w.log.WithError(err).WithFields(logrus.Fields{"cell": cr.Name, "step": step.DisplayName()}).
				Error("executor error")
			w.setStepStatus(cr, sr, workflow.StatusFailure, 0, workflow.FailureInternal)
			if verdict == workflow.StatusSuccess {
				verdict = workflow.StatusFailure
				w.setCellClass(cr, workflow.FailureInternal)
			}
		case res.Failed() && step.ContinueOnError:
			// Recorded but not fatal. Exit code and class stay visible.
			w.setStepStatus(cr, sr, workflow.StatusSuccess, res.ExitCode, res.FailureClass)
		case res.Failed():
			w.setStepStatus(cr, sr, workflow.StatusFailure, res.ExitCode, res.FailureClass)
			if verdict == workflow.StatusSuccess {
				verdict = workflow.StatusFailure
				w.setCellClass(cr, res.FailureClass)
			}
		default:
			w.setStepStatus(cr, sr, workflow.StatusSuccess, res.ExitCode, workflow.FailureNone)
			for k, v := range res.Env {
				env[k] = v
				exprEnv[k] = v
			}
			if w.conf.Cache != nil && spec.Executor == "cache" && res.Env[executor.CacheHitEnv] == "false" {
				pendingSaves = append(pendingSaves, spec)
			}
		}
	}

	w.mu.Lock()
	cr.Status = verdict
	cr.FinishedAt = helper.UnixNow()
	w.mu.Unlock()
	w.persist()
	w.reportCell(cr)

	if verdict == workflow.StatusSuccess && w.conf.Cache != nil {
		for _, spec := range pendingSaves {
			if err := w.conf.Cache.Save(spec, w.sink(cr, spec.StepIndex, logw)); err != nil {
				w.log.WithError(err).WithField("cell", cr.Name).Warn("cache save failed")
			}
		}
	}
	if !w.conf.InPlace && verdict == workflow.StatusSuccess {
		if err := os.RemoveAll(workspace); err != nil {
			w.log.WithError(err).WithField("cell", cr.Name).Warn("workspace cleanup failed")
		}
	}
}

// stepSpec expands the step's expressions against the current scope and
// assembles the executor input.
func (w *Worker) stepSpec(job *workflow.Job, cr *workflow.CellRun, step *workflow.Step, index int,
	env map[string]string, workspace, container string, scope expr.Scope) (*executor.Spec, error) {

	stepEnv := copyEnv(env)
	for _, k := range step.Env.Keys() {
		v := step.Env.Get(k)
		expanded, err := expr.Expand(v, scope)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		stepEnv[k] = expanded
	}

	with := make(map[string]string, step.With.Len())
	for _, k := range step.With.Keys() {
		v := step.With.Get(k)
		expanded, err := expr.Expand(v, scope)
		if err != nil {
			return nil, fmt.Errorf("with %s: %w", k, err)
		}
		with[k] = expanded
	}

	run, err := expr.Expand(step.Run, scope)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	workDir := workspace
	if step.WorkingDirectory != "" {
		wd, err := expr.Expand(step.WorkingDirectory, scope)
		if err != nil {
			return nil, fmt.Errorf("working-directory: %w", err)
		}
		if filepath.IsAbs(wd) {
			workDir = wd
		} else {
			workDir = filepath.Join(workspace, wd)
		}
	}

	timeout := time.Duration(step.TimeoutMinutes) * time.Minute
	if timeout == 0 && job.TimeoutMinutes > 0 {
		timeout = time.Duration(job.TimeoutMinutes) * time.Minute
	}

	name := "shell"
	if step.Uses != "" {
		name = workflow.ActionName(step.Uses)
	} else if container != "" {
		name = "docker"
	}

	return &executor.Spec{
		RunID:      w.run.ID,
		CellID:     cr.ID,
		StepIndex:  index,
		Name:       step.DisplayName(),
		Executor:   name,
		Uses:       step.Uses,
		With:       with,
		Run:        run,
		Shell:      step.Shell,
		Env:        stepEnv,
		Workspace:  workspace,
		WorkingDir: workDir,
		Image:      container,
		Timeout:    timeout,
	}, nil
}

func (w *Worker) executorFor(step *workflow.Step, container string) (executor.Executor, error) {
	if step.Uses != "" {
		return w.conf.Registry.Get(workflow.ActionName(step.Uses))
	}
	if container != "" {
		return w.conf.Registry.Get("docker")
	}
	return w.conf.Registry.Get("shell")
}

// sink fans each output line out to the log store and the reporter.
func (w *Worker) sink(cr *workflow.CellRun, stepIndex int, logw *logstore.Writer) executor.Sink {
	return executor.SinkFunc(func(stream string, line []byte) {
		chunk := &messaging.LogChunk{
			RunID:     w.run.ID,
			CellID:    cr.ID,
			StepIndex: stepIndex,
			Stream:    stream,
			Line:      string(line),
			At:        helper.UnixNow(),
		}
		if logw != nil {
			if payload, err := json.Marshal(chunk); err == nil {
				if _, err := logw.Write(payload); err != nil {
					w.log.WithError(err).Warn("log write failed")
				}
			}
		}
		if w.conf.Reporter != nil {
			w.conf.Reporter.Log(chunk)
		}
	})
}

// cellEnv builds a cell's starting environment: the host process environment,
// then the built-ins, then workflow, job and matrix values, later wins.
func (w *Worker) cellEnv(job *workflow.Job, cr *workflow.CellRun, workspace string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	env["CI"] = "true"
	env["GANTRY_RUN_ID"] = w.run.ID
	env["GANTRY_WORKFLOW"] = w.run.WorkflowName
	env["GANTRY_JOB"] = job.Name
	env["GANTRY_CELL"] = cr.Name
	env["GANTRY_EVENT"] = w.run.Event.Kind
	env["GANTRY_WORKSPACE"] = workspace
	if w.run.Event.SHA != "" {
		env["GANTRY_SHA"] = w.run.Event.SHA
	}
	if w.run.Event.Branch != "" {
		env["GANTRY_REF"] = w.run.Event.Branch
	}
	if w.repo != "" {
		env["GANTRY_REPOSITORY"] = w.repo
	}

	for _, k := range w.wf.Env.Keys() {
		v := w.wf.Env.Get(k)
		env[k] = v
	}
	for _, k := range job.Env.Keys() {
		v := job.Env.Get(k)
		env[k] = v
	}
	for k, v := range cr.Cell.Env() {
		env[k] = v
	}
	return env
}

func (w *Worker) workspace(cr *workflow.CellRun) (string, error) {
	dir := w.conf.WorkspaceRoot
	if dir == "" {
		dir = os.TempDir()
	}
	if w.conf.InPlace {
		return dir, nil
	}
	dir = filepath.Join(dir, w.run.ID, cr.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// cellScope is what step expressions see.
func (w *Worker) cellScope(cr *workflow.CellRun, env map[string]string, verdict workflow.Status) expr.Scope {
	matrix := make(map[string]any, cr.Cell.Values.Len())
	_ = cr.Cell.Values.Range(func(axis, value string) error {
		matrix[axis] = value
		return nil
	})
	envAny := make(map[string]any, len(env))
	for k, v := range env {
		envAny[k] = v
	}
	return expr.Scope{
		"matrix": matrix,
		"env":    envAny,
		"event":  eventScope(w.run.Event),
		"status": string(verdict),
	}
}

func (w *Worker) jobScope(job *workflow.Job) expr.Scope {
	env := make(map[string]any)
	for _, k := range w.wf.Env.Keys() {
		v := w.wf.Env.Get(k)
		env[k] = v
	}
	for _, k := range job.Env.Keys() {
		v := job.Env.Get(k)
		env[k] = v
	}
	return expr.Scope{
		"env":    env,
		"event":  eventScope(w.run.Event),
		"status": string(workflow.StatusSuccess),
	}
}

func eventScope(ev workflow.Event) map[string]any {
	return map[string]any{
		"kind":        ev.Kind,
		"action":      ev.Action,
		"repo":        ev.Repo,
		"branch":      ev.Branch,
		"head_branch": ev.HeadBranch,
		"tag":         ev.Tag,
		"sha":         ev.SHA,
		"number":      ev.Number,
		"sender":      ev.Sender,
	}
}

func (w *Worker) needsPassed(jr *workflow.JobRun) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, need := range jr.Needs {
		dep := w.run.Job(need)
		if dep == nil || !dep.Status.Passed() {
			return false
		}
	}
	return true
}

func cellStatuses(jr *workflow.JobRun) []workflow.Status {
	out := make([]workflow.Status, 0, len(jr.Cells))
	for _, cr := range jr.Cells {
		out = append(out, cr.Status)
	}
	return out
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// State transitions below hold the worker lock, persist and report.

func (w *Worker) setJobStatus(jr *workflow.JobRun, status workflow.Status) {
	w.mu.Lock()
	jr.Status = status
	w.mu.Unlock()
	w.persist()
}

func (w *Worker) skipJob(jr *workflow.JobRun, status workflow.Status) {
	w.mu.Lock()
	jr.Status = status
	for _, cr := range jr.Cells {
		cr.Status = status
		for _, sr := range cr.Steps {
			sr.Status = status
		}
	}
	w.mu.Unlock()
	w.persist()
	for _, cr := range jr.Cells {
		w.reportCell(cr)
	}
}

func (w *Worker) failJob(jr *workflow.JobRun, class workflow.FailureClass) {
	w.mu.Lock()
	jr.Status = workflow.StatusFailure
	for _, cr := range jr.Cells {
		cr.Status = workflow.StatusFailure
		cr.FailureClass = class
	}
	w.mu.Unlock()
	w.persist()
	for _, cr := range jr.Cells {
		w.reportCell(cr)
	}
}

func (w *Worker) skipCell(cr *workflow.CellRun, status workflow.Status) {
	w.mu.Lock()
	cr.Status = status
	for _, sr := range cr.Steps {
		if !sr.Status.Terminal() {
			sr.Status = status
		}
	}
	w.mu.Unlock()
	w.persist()
	w.reportCell(cr)
}

func (w *Worker) failCell(cr *workflow.CellRun, class workflow.FailureClass) {
	w.mu.Lock()
	cr.Status = workflow.StatusFailure
	cr.FailureClass = class
	cr.FinishedAt = helper.UnixNow()
	w.mu.Unlock()
	w.persist()
	w.reportCell(cr)
}

func (w *Worker) setCellClass(cr *workflow.CellRun, class workflow.FailureClass) {
	w.mu.Lock()
	cr.FailureClass = class
	w.mu.Unlock()
}

func (w *Worker) setStepStatus(cr *workflow.CellRun, sr *workflow.StepRun,
	status workflow.Status, exitCode int, class workflow.FailureClass) {
	w.mu.Lock()
	sr.Status = status
	sr.ExitCode = exitCode
	sr.FailureClass = class
	w.mu.Unlock()
	w.reportStep(cr, sr)
}

func (w *Worker) persist() {
	if w.conf.Store == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conf.Store.SaveRun(w.run); err != nil {
		w.log.WithError(err).Warn("run state save failed")
	}
}

func (w *Worker) reportRun(cmd int) {
	if w.conf.Reporter == nil {
		return
	}
	w.mu.Lock()
	ev := &messaging.RunEvent{
		Cmd:    cmd,
		RunID:  w.run.ID,
		Status: w.run.Status,
		Node:   w.conf.Node,
		At:     helper.UnixNow(),
	}
	w.mu.Unlock()
	w.conf.Reporter.Event(ev)
}

func (w *Worker) reportCell(cr *workflow.CellRun) {
	if w.conf.Reporter == nil {
		return
	}
	w.mu.Lock()
	ev := &messaging.RunEvent{
		Cmd:    messaging.RunCmdCellUpdate,
		RunID:  w.run.ID,
		CellID: cr.ID,
		Status: cr.Status,
		Class:  cr.FailureClass,
		Node:   w.conf.Node,
		At:     helper.UnixNow(),
	}
	w.mu.Unlock()
	w.conf.Reporter.Event(ev)
}

func (w *Worker) reportStep(cr *workflow.CellRun, sr *workflow.StepRun) {
	if w.conf.Reporter == nil {
		return
	}
	w.mu.Lock()
	ev := &messaging.RunEvent{
		Cmd:       messaging.RunCmdStepUpdate,
		RunID:     w.run.ID,
		CellID:    cr.ID,
		StepIndex: sr.Index,
		Status:    sr.Status,
		ExitCode:  sr.ExitCode,
		Class:     sr.FailureClass,
		Node:      w.conf.Node,
		At:        helper.UnixNow(),
	}
	w.mu.Unlock()
	w.conf.Reporter.Event(ev)
}
