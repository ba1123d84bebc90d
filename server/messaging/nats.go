// Package messaging carries the NATS plumbing between the gantry server
// and its runners: subject names, message envelopes and connection
// helpers.
package messaging

import (
	"os"
	"time"

	"github.com/jpillora/backoff"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects. Dispatches go to the runner queue group so exactly one runner
// picks each run up; events and logs flow back unqueued.
const (
	RUN_DISPATCH = "gantry.run.dispatch"
	RUN_CANCEL   = "gantry.run.cancel"
	RUN_EVENT    = "gantry.run.event"
	RUN_LOG      = "gantry.run.log"
	RUNNER_HELLO = "gantry.runner.hello"

	RUNNER_QUEUE = "gantry-runners"
)

type NatsSubConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int

	Logger *logrus.Entry
}

type NatsSub struct {
	config *NatsSubConfig
}

func NewNatsSub(config *NatsSubConfig) *NatsSub {
	return &NatsSub{
		config: config,
	}
}

func optNats(o *NatsSubConfig) []nats.Option {
	opts := make([]nats.Option, 0)
	opts = append(opts, nats.Name(o.Name))
	opts = append(opts, nats.MaxReconnects(o.MaxReconnects))
	opts = append(opts, nats.ReconnectWait(o.ReconnectWait))
	return opts
}

// Connect dials the configured NATS server, retrying with exponential
// backoff until it succeeds or gives up after ten attempts.
func (ns *NatsSub) Connect() (*nats.Conn, error) {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	var nc *nats.Conn
	var err error
	for i := 0; i < 10; i++ {
		nc, err = nats.Connect(ns.config.URL, optNats(ns.config)...)
		if err == nil {
			return nc, nil
		}
		d := b.Duration()
		ns.config.Logger.WithError(err).Warnf("nats connect failed, retrying in %s", d)
		time.Sleep(d)
	}
	return nil, err
}

// Subscribes connects, installs the handlers and blocks until a signal
// arrives. Queue names map subjects to queue subscriptions; subjects not
// present get a plain subscription.
func (ns *NatsSub) Subscribes(subs map[string]nats.MsgHandler, queues map[string]string, signals chan os.Signal) {
	nc, err := ns.Connect()
	if err != nil {
		ns.config.Logger.Error(err)
		return
	}
	defer nc.Drain()

	for subject, cb := range subs {
		if queue, ok := queues[subject]; ok {
			_, err = nc.QueueSubscribe(subject, queue, cb)
		} else {
			_, err = nc.Subscribe(subject, cb)
		}
		if err != nil {
			ns.config.Logger.Error(err)
			return
		}
	}
	nc.Flush()
	<-signals
	ns.config.Logger.Warn("stop nats subscriptions")
}
