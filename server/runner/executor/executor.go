// Package executor contains the step executors a runner dispatches to: a
// shell executor for run steps, a container executor for jobs that declare
// an image, and the built-in actions (checkout, setup-python, cache) for
// uses steps.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryci/gantry/pkg/workflow"
)

// Spec is one step, fully resolved: expressions expanded, env assembled,
// workspace prepared by the worker.
type Spec struct {
	RunID     string
	CellID    string
	StepIndex int
	Name      string
	// Executor is the registry name the worker resolved for this step.
	Executor string

	// Uses names a built-in action, Run carries command text. Exactly one
	// is set, mirroring the workflow model.
	Uses string
	With map[string]string
	Run  string

	Shell      string
	Env        map[string]string
	Workspace  string
	WorkingDir string
	Image      string
	Timeout    time.Duration
}

// Result is the step verdict. ExitCode carries the process exit status for
// command steps; FailureClass is empty on success. Env holds variables the
// step exports into the rest of the cell, the way setup-python puts the
// selected interpreter on PATH.
type Result struct {
	ExitCode     int
	FailureClass workflow.FailureClass
	Env          map[string]string
}

func (r *Result) Failed() bool {
	return r.FailureClass != workflow.FailureNone
}

// Sink receives step output lines as they appear. Stream is "stdout" or
// "stderr"; the line arrives without its trailing newline.
type Sink interface {
	Line(stream string, line []byte)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(stream string, line []byte)

func (f SinkFunc) Line(stream string, line []byte) {
	f(stream, line)
}

// DiscardSink drops all output.
var DiscardSink = SinkFunc(func(string, []byte) {})

type Executor interface {
	Name() string
	Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error)
}

// Registry maps action names to executors.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(e Executor) {
	r.executors[e.Name()] = e
}

func (r *Registry) Get(name string) (Executor, error) {
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("executor %q is not registered", name)
	}
	return e, nil
}

// commandResult classifies a finished command step.
func commandResult(exitCode int) *Result {
	res := &Result{ExitCode: exitCode}
	if exitCode != 0 {
		res.FailureClass = workflow.FailureCommand
	}
	return res
}

// provisionFailure marks a step that could not set its environment up,
// logging the reason to the sink so the run log shows what went wrong.
func provisionFailure(sink Sink, format string, args ...any) *Result {
	sink.Line("stderr", []byte(fmt.Sprintf(format, args...)))
	return &Result{ExitCode: 1, FailureClass: workflow.FailureProvision}
}
