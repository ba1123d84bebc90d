// Package events is the in-process bus between the NATS ingest loop and the
// live stream hub. Everything a runner reports fans out through here.
package events

import (
	"github.com/gantryci/gantry/server/messaging"
)

const (
	KindRunEvent = iota
	KindLogChunk
)

type Event struct {
	Kind  int
	Run   *messaging.RunEvent
	Chunk *messaging.LogChunk
}

var ch chan *Event

func Init() {
	ch = make(chan *Event, 1024)
}

func Get() chan *Event {
	if ch == nil {
		Init()
	}
	return ch
}

// Publish drops the event when the bus is saturated rather than stalling
// the NATS ingest loop; live viewers miss a line, storage does not.
func Publish(e *Event) {
	select {
	case Get() <- e:
	default:
	}
}

var reload = make(chan struct{}, 1)

// NotifyWorkflowsChanged pokes the scheduler to rebuild its cron entries.
// Coalescing is fine, one rebuild covers any number of edits.
func NotifyWorkflowsChanged() {
	select {
	case reload <- struct{}{}:
	default:
	}
}

func WorkflowsChanged() <-chan struct{} {
	return reload
}
