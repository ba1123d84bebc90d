package runner

import (
	"fmt"
	"io"
	"sync"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
)

// natsReporter publishes worker progress on the runner's shared connection.
type natsReporter struct {
	nc  *nats.Conn
	log *logrus.Entry
}

func (p *natsReporter) Event(ev *messaging.RunEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.nc.Publish(messaging.RUN_EVENT, b); err != nil {
		p.log.WithError(err).Warn("event publish failed")
	}
}

func (p *natsReporter) Log(chunk *messaging.LogChunk) {
	b, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	if err := p.nc.Publish(messaging.RUN_LOG, b); err != nil {
		p.log.WithError(err).Warn("log publish failed")
	}
}

// ConsoleReporter prints run progress for local one-shot runs. Lines are
// prefixed with the cell name so interleaved matrix output stays readable.
type ConsoleReporter struct {
	out   io.Writer
	names map[string]string

	mu sync.Mutex
}

func NewConsoleReporter(out io.Writer, run *workflow.Run) *ConsoleReporter {
	names := make(map[string]string)
	for _, jr := range run.Jobs {
		for _, cr := range jr.Cells {
			names[cr.ID] = cr.Name
		}
	}
	return &ConsoleReporter{out: out, names: names}
}

func (c *ConsoleReporter) Event(ev *messaging.RunEvent) {
	if ev.Cmd != messaging.RunCmdCellUpdate || !ev.Status.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Class != workflow.FailureNone {
		fmt.Fprintf(c.out, "--- %s: %s (%s)\n", c.name(ev.CellID), ev.Status, ev.Class)
		return
	}
	fmt.Fprintf(c.out, "--- %s: %s\n", c.name(ev.CellID), ev.Status)
}

func (c *ConsoleReporter) Log(chunk *messaging.LogChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s | %s\n", c.name(chunk.CellID), chunk.Line)
}

func (c *ConsoleReporter) name(cellID string) string {
	if name, ok := c.names[cellID]; ok {
		return name
	}
	return cellID
}
