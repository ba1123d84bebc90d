package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/sirupsen/logrus"
)

const containerWorkspace = "/workspace"

// Docker runs command steps inside the container image the job declares.
// The cell workspace is bind-mounted at /workspace so checkout output and
// build artifacts survive across the steps of a cell.
type Docker struct {
	log *logrus.Entry

	mu  sync.Mutex
	cli *client.Client
}

func NewDocker(log *logrus.Entry) *Docker {
	return &Docker{log: log}
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) client() (*client.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != nil {
		return d.cli, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	d.cli = cli
	return cli, nil
}

func (d *Docker) Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error) {
	cli, err := d.client()
	if err != nil {
		return provisionFailure(sink, "docker unavailable: %v", err), nil
	}

	if err := d.pull(ctx, cli, spec.Image); err != nil {
		return provisionFailure(sink, "could not pull %s: %v", spec.Image, err), nil
	}

	shell := spec.Shell
	if shell == "" {
		shell = "bash"
	}
	cmd := []string{shell, "-e", "-o", "pipefail", "-c", spec.Run}
	if shell == "sh" {
		cmd = []string{shell, "-e", "-c", spec.Run}
	}
	workdir := containerWorkspace
	if spec.WorkingDir != "" {
		workdir = spec.WorkingDir
	}

	name := containerName(spec)
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        cmd,
		Env:        flattenEnv(spec.Env),
		WorkingDir: workdir,
	}, &container.HostConfig{
		Binds: []string{spec.Workspace + ":" + containerWorkspace},
	}, nil, nil, name)
	if err != nil {
		return provisionFailure(sink, "could not create container: %v", err), nil
	}
	defer func() {
		err := cli.ContainerRemove(context.Background(), created.ID, types.ContainerRemoveOptions{Force: true})
		if err != nil {
			d.log.WithError(err).WithField("container", name).Warn("container cleanup failed")
		}
	}()

	if err := cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return provisionFailure(sink, "could not start container: %v", err), nil
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, err
	}
	defer logs.Close()

	var readers sync.WaitGroup
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	readers.Add(2)
	go readLines(outR, "stdout", sink, &readers)
	go readLines(errR, "stderr", sink, &readers)
	go func() {
		_, err := stdcopy.StdCopy(outW, errW, logs)
		outW.CloseWithError(err)
		errW.CloseWithError(err)
	}()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := cli.ContainerWait(waitCtx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		readers.Wait()
		if status.Error != nil {
			return nil, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return commandResult(int(status.StatusCode)), nil
	case err := <-errCh:
		d.stop(created.ID)
		readers.Wait()
		if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &Result{ExitCode: -1, FailureClass: workflow.FailureTimeout}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
}

func (d *Docker) pull(ctx context.Context, cli *client.Client, image string) error {
	rc, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *Docker) stop(id string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cli.ContainerStop(stopCtx, id, container.StopOptions{}); err != nil {
		d.log.WithError(err).WithField("container", id).Debug("container stop failed")
	}
}

func containerName(spec *Spec) string {
	return strings.ToLower(fmt.Sprintf("gantry-%s-%d", spec.CellID, spec.StepIndex))
}
