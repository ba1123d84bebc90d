package executor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/sirupsen/logrus"
)

// Shell runs command steps as host processes through bash (or sh), with -e
// so a multi-line script stops at its first failing line.
type Shell struct {
	log *logrus.Entry
}

func NewShell(log *logrus.Entry) *Shell {
	return &Shell{log: log}
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error) {
	shell := spec.Shell
	if shell == "" {
		shell = "bash"
	}
	args := []string{"-e", "-o", "pipefail", "-c", spec.Run}
	if shell == "sh" {
		args = []string{"-e", "-c", spec.Run}
	}

	cmd := exec.Command(shell, args...)
	cmd.Env = flattenEnv(spec.Env)
	cmd.Dir = spec.Workspace
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}

	proc, err := launch(cmd, sink)
	if err != nil {
		s.log.WithError(err).WithField("step", spec.Name).Error("could not start step process")
		return provisionFailure(sink, "could not start %s: %v", shell, err), nil
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-proc.done:
	case <-timer.C:
		proc.terminate(s.log)
		<-proc.done
		return &Result{ExitCode: -1, FailureClass: workflow.FailureTimeout}, nil
	case <-ctx.Done():
		proc.terminate(s.log)
		<-proc.done
		return nil, ctx.Err()
	}

	if err == nil {
		return commandResult(0), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return commandResult(exitErr.ExitCode()), nil
	}
	return nil, err
}

type process struct {
	cmd  *exec.Cmd
	done chan error
}

// launch starts the command with both output pipes drained line by line
// into the sink. The done channel yields the Wait error after the readers
// finish, so the pipes are never closed under them.
func launch(cmd *exec.Cmd, sink Sink) (*process, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(stdout, "stdout", sink, &readers)
	go readLines(stderr, "stderr", sink, &readers)

	p := &process{cmd: cmd, done: make(chan error, 1)}
	go func() {
		readers.Wait()
		p.done <- cmd.Wait()
	}()
	return p, nil
}

func readLines(r io.Reader, stream string, sink Sink, wg *sync.WaitGroup) {
	defer wg.Done()
	bufin := bufio.NewReader(r)
	for {
		buf, err := bufin.ReadBytes('\n')
		if line := trimEOL(buf); len(line) > 0 {
			sink.Line(stream, line)
		}
		if err != nil {
			return
		}
	}
}

// terminate escalates through SIGINT, SIGTERM and SIGKILL with short
// graces between them.
func (p *process) terminate(log *logrus.Entry) {
	pid := p.cmd.Process.Pid
	signals := []struct {
		sig   os.Signal
		grace time.Duration
	}{
		{syscall.SIGINT, 250 * time.Millisecond},
		{syscall.SIGTERM, 500 * time.Millisecond},
		{syscall.SIGKILL, time.Second},
	}
	for _, s := range signals {
		if err := p.cmd.Process.Signal(s.sig); err != nil {
			log.WithError(err).Debugf("signal %v to pid %d failed", s.sig, pid)
		}
		select {
		case err := <-p.done:
			p.done <- err
			return
		case <-time.After(s.grace):
		}
	}
	log.Warnf("pid %d survived SIGKILL", pid)
}

func trimEOL(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}
	return b[:n]
}

// flattenEnv renders the env map as KEY=VALUE pairs in sorted order so
// process environments come out deterministic.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
