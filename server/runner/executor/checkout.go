package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/sirupsen/logrus"
)

// Checkout materializes the repository under test into the cell workspace.
// It fetches the exact commit of the triggering event, so every cell of a
// run builds the same tree.
type Checkout struct {
	log *logrus.Entry
}

func NewCheckout(log *logrus.Entry) *Checkout {
	return &Checkout{log: log}
}

func (c *Checkout) Name() string { return "checkout" }

func (c *Checkout) Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error) {
	repo := spec.With["repository"]
	if repo == "" {
		repo = spec.Env["GANTRY_REPOSITORY"]
	}
	if repo == "" {
		// Local runs execute in place; the workspace already holds the tree.
		sink.Line("stdout", []byte("no repository configured, using existing workspace"))
		return commandResult(0), nil
	}

	ref := spec.With["ref"]
	if ref == "" {
		ref = spec.Env["GANTRY_SHA"]
	}
	if ref == "" {
		ref = spec.Env["GANTRY_REF"]
	}
	if ref == "" {
		ref = "HEAD"
	}
	depth := spec.With["depth"]
	if depth == "" {
		depth = "1"
	}

	if err := os.MkdirAll(spec.Workspace, 0o755); err != nil {
		return provisionFailure(sink, "workspace: %v", err), nil
	}

	steps := [][]string{
		{"init", "--quiet", "."},
		{"remote", "add", "origin", repo},
		{"fetch", "--quiet", "--depth", depth, "origin", ref},
		{"checkout", "--quiet", "--force", "FETCH_HEAD"},
	}
	sink.Line("stdout", []byte(fmt.Sprintf("fetching %s at %s", repo, ref)))
	for _, args := range steps {
		if err := c.git(ctx, spec, sink, args); err != nil {
			return &Result{ExitCode: 1, FailureClass: workflow.FailureProvision}, nil
		}
	}
	return commandResult(0), nil
}

func (c *Checkout) git(ctx context.Context, spec *Spec, sink Sink, args []string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = spec.Workspace
	cmd.Env = flattenEnv(spec.Env)

	proc, err := launch(cmd, sink)
	if err != nil {
		sink.Line("stderr", []byte(fmt.Sprintf("git %s: %v", args[0], err)))
		return err
	}
	select {
	case err = <-proc.done:
	case <-ctx.Done():
		proc.terminate(c.log)
		<-proc.done
		return ctx.Err()
	}
	if err != nil {
		sink.Line("stderr", []byte(fmt.Sprintf("git %s failed: %v", args[0], err)))
	}
	return err
}
