package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/httpserver/events"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/storage"
	"github.com/gantryci/gantry/server/storage/logstore"
	version "github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Ingest consumes everything runners publish: state transitions update the
// stored run document, log lines land in the server's log store, and both
// are forwarded to the live stream. NATS serializes callbacks per
// subscription, so the load-modify-save on run documents does not race
// with itself.
type Ingest struct {
	natsConf *messaging.NatsSubConfig
	logs     *logstore.Store
	log      *logrus.Entry
	signals  chan os.Signal

	mu      sync.Mutex
	writers map[string]*logstore.Writer
}

func NewIngest(natsConf *messaging.NatsSubConfig, logs *logstore.Store, logger *logrus.Entry) *Ingest {
	return &Ingest{
		natsConf: natsConf,
		logs:     logs,
		log:      logger,
		signals:  make(chan os.Signal, 1),
		writers:  make(map[string]*logstore.Writer),
	}
}

// Start subscribes and blocks until Stop is called.
func (in *Ingest) Start() {
	subs := map[string]nats.MsgHandler{
		messaging.RUN_EVENT:    in.onRunEvent,
		messaging.RUN_LOG:      in.onRunLog,
		messaging.RUNNER_HELLO: in.onHello,
	}
	ns := messaging.NewNatsSub(in.natsConf)
	ns.Subscribes(subs, nil, in.signals)
	in.closeAllWriters()
}

func (in *Ingest) Stop() {
	in.signals <- os.Interrupt
}

func (in *Ingest) onRunEvent(msg *nats.Msg) {
	var ev messaging.RunEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		in.log.WithError(err).Warn("bad run event payload")
		return
	}
	if err := in.applyRunEvent(&ev); err != nil {
		in.log.WithError(err).WithField("run", ev.RunID).Warn("apply run event")
		return
	}
	events.Publish(&events.Event{Kind: events.KindRunEvent, Run: &ev})
}

func (in *Ingest) applyRunEvent(ev *messaging.RunEvent) error {
	run, err := storage.GetRun(ev.RunID)
	if err != nil {
		return err
	}
	switch ev.Cmd {
	case messaging.RunCmdStarted:
		run.Status = workflow.StatusRunning
		run.StartedAt = ev.At
	case messaging.RunCmdStepUpdate:
		cr := run.Cell(ev.CellID)
		if cr == nil || ev.StepIndex < 0 || ev.StepIndex >= len(cr.Steps) {
			return fmt.Errorf("unknown step %s[%d]", ev.CellID, ev.StepIndex)
		}
		sr := cr.Steps[ev.StepIndex]
		sr.Status = ev.Status
		sr.ExitCode = ev.ExitCode
		sr.FailureClass = ev.Class
		if ev.Status == workflow.StatusRunning {
			sr.StartedAt = ev.At
		} else if ev.Status.Terminal() {
			sr.FinishedAt = ev.At
		}
	case messaging.RunCmdCellUpdate:
		cr := run.Cell(ev.CellID)
		if cr == nil {
			return fmt.Errorf("unknown cell %s", ev.CellID)
		}
		cr.Status = ev.Status
		if ev.Class != "" {
			cr.FailureClass = ev.Class
		}
		if ev.Status == workflow.StatusRunning {
			cr.StartedAt = ev.At
		} else if ev.Status.Terminal() {
			cr.FinishedAt = ev.At
		}
		run.Recompute()
	case messaging.RunCmdFinished:
		run.Recompute()
		// The runner's verdict wins over the local rollup.
		run.Status = ev.Status
		run.FinishedAt = ev.At
		in.closeRunWriters(ev.RunID)
	default:
		return fmt.Errorf("unknown run event cmd %d", ev.Cmd)
	}
	return storage.SaveRun(run, ev.Node)
}

func (in *Ingest) onRunLog(msg *nats.Msg) {
	var chunk messaging.LogChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		in.log.WithError(err).Warn("bad log payload")
		return
	}
	if in.logs != nil {
		w, err := in.writer(chunk.RunID, chunk.CellID)
		if err != nil {
			in.log.WithError(err).WithField("run", chunk.RunID).Warn("open log writer")
		} else if _, err := w.Write(msg.Data); err != nil {
			in.log.WithError(err).WithField("run", chunk.RunID).Warn("append log")
		}
	}
	events.Publish(&events.Event{Kind: events.KindLogChunk, Chunk: &chunk})
}

// minRunnerVersion is the oldest runner whose messages this server still
// understands.
var minRunnerVersion = version.Must(version.NewVersion("0.1.0"))

func (in *Ingest) onHello(msg *nats.Msg) {
	var hello messaging.RunnerHello
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		in.log.WithError(err).Warn("bad hello payload")
		return
	}
	// Source builds report non-semver versions, those pass unchecked.
	if v, err := version.NewVersion(hello.Version); err == nil && v.LessThan(minRunnerVersion) {
		in.log.WithFields(logrus.Fields{
			"node":    hello.Node,
			"version": hello.Version,
		}).Warnf("runner older than supported %s", minRunnerVersion)
	}
	if err := storage.UpsertRunner(hello.Node, hello.Version, hello.Capacity, hello.At); err != nil {
		in.log.WithError(err).Warn("upsert runner")
	}
}

func (in *Ingest) writer(runID, cellID string) (*logstore.Writer, error) {
	key := runID + "/" + cellID
	in.mu.Lock()
	defer in.mu.Unlock()
	if w, ok := in.writers[key]; ok {
		return w, nil
	}
	w, err := in.logs.OpenWriter(runID, cellID)
	if err != nil {
		return nil, err
	}
	in.writers[key] = w
	return w, nil
}

func (in *Ingest) closeRunWriters(runID string) {
	prefix := runID + "/"
	in.mu.Lock()
	defer in.mu.Unlock()
	for key, w := range in.writers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			if err := w.Close(); err != nil {
				in.log.WithError(err).Warn("close log writer")
			}
			delete(in.writers, key)
		}
	}
}

func (in *Ingest) closeAllWriters() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for key, w := range in.writers {
		if err := w.Close(); err != nil {
			in.log.WithError(err).Warn("close log writer")
		}
		delete(in.writers, key)
	}
}
