// Package local executes a workflow on this machine without a server or
// runner daemon, printing output to the terminal. It is the inner loop
// for writing workflows: edit, run, read.
package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/runner"
	"github.com/gantryci/gantry/server/runner/executor"
)

type RunOptions struct {
	File   string
	Event  string
	Branch string
	SHA    string
	// InPlace runs every cell in the current directory instead of a
	// scratch workspace, the way you would iterate on a checked-out tree.
	InPlace  bool
	MaxCells int
	LogLevel string
}

// Run compiles the file, plans a run for the event and drives it with a
// worker wired to the terminal. The returned run carries the verdict even
// when err is non-nil.
func Run(opts *RunOptions) (*workflow.Run, error) {
	raw, err := os.ReadFile(opts.File)
	if err != nil {
		return nil, err
	}
	wf, err := workflow.CompileBytes(raw)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	ev := workflow.Event{
		Kind:       opts.Event,
		Branch:     opts.Branch,
		SHA:        opts.SHA,
		ReceivedAt: helper.UnixNow(),
	}

	log := logger.InitLogger(opts.LogLevel, "local")
	if !wf.On.Matches(ev) {
		log.Warnf("a %s event would not fire this workflow, running anyway", ev.Kind)
	}

	run, err := workflow.Plan(wf, ev)
	if err != nil {
		return nil, err
	}

	base := baseDir()
	cache := executor.NewCache(filepath.Join(base, "cache"), log)
	registry := executor.NewRegistry()
	registry.Register(executor.NewShell(log))
	registry.Register(executor.NewDocker(log))
	registry.Register(executor.NewCheckout(log))
	registry.Register(executor.NewSetupPython(filepath.Join(base, "toolchains"), log))
	registry.Register(cache)

	workspaceRoot := filepath.Join(base, "workspaces")
	if opts.InPlace {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspaceRoot = cwd
	}

	maxCells := opts.MaxCells
	if maxCells <= 0 {
		maxCells = 2
	}

	worker, err := runner.NewWorker(&messaging.RunDispatch{Run: run, Workflow: raw}, &runner.WorkerConfig{
		Node:          "local",
		WorkspaceRoot: workspaceRoot,
		InPlace:       opts.InPlace,
		Logger:        log,
		Registry:      registry,
		Cache:         cache,
		Reporter:      runner.NewConsoleReporter(os.Stdout, run),
		CellSlots:     make(chan struct{}, maxCells),
	})
	if err != nil {
		return nil, err
	}

	runErr := worker.Run()

	if history, err := OpenHistory(HistoryPath(), log); err != nil {
		log.WithError(err).Warn("history unavailable")
	} else {
		if err := history.Append(run); err != nil {
			log.WithError(err).Warn("history append failed")
		}
		history.Close()
	}
	return run, runErr
}

// Verdict reduces a finished run to an exit outcome: nil for success or
// all-skipped, an error naming the first failed cell otherwise.
func Verdict(run *workflow.Run) error {
	if run.Status.Passed() {
		return nil
	}
	for _, jr := range run.Jobs {
		for _, cr := range jr.Cells {
			if cr.Status == workflow.StatusFailure || cr.Status == workflow.StatusCancelled {
				if cr.FailureClass != workflow.FailureNone {
					return fmt.Errorf("run %s: cell %q %s (%s)", run.Status, cr.Name, cr.Status, cr.FailureClass)
				}
				return fmt.Errorf("run %s: cell %q %s", run.Status, cr.Name, cr.Status)
			}
		}
	}
	return fmt.Errorf("run %s", run.Status)
}

// HistoryPath is where finished local runs are recorded.
func HistoryPath() string {
	return filepath.Join(baseDir(), "history.db")
}

func baseDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gantry", "local")
	}
	return filepath.Join(os.TempDir(), "gantry", "local")
}
