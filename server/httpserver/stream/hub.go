// Package stream serves live run output over websockets. The hub fans
// frames from the event bus out to per-run subscribers, with a redis tail
// so late joiners get recent history.
package stream

import (
	"sync"
	"time"

	"github.com/gantryci/gantry/server/httpserver/events"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
	tail *TailCache
	log  *logrus.Entry
	stop chan struct{}
}

// NewHub builds a hub; tail may be nil when redis is not configured.
func NewHub(tail *TailCache, logger *logrus.Entry) *Hub {
	return &Hub{
		subs: make(map[string]map[*client]struct{}),
		tail: tail,
		log:  logger,
		stop: make(chan struct{}),
	}
}

// Run consumes the event bus until Close is called.
func (h *Hub) Run(bus chan *events.Event) {
	for {
		select {
		case <-h.stop:
			return
		case e := <-bus:
			h.dispatch(e)
		}
	}
}

func (h *Hub) Close() {
	close(h.stop)
}

func (h *Hub) dispatch(e *events.Event) {
	switch e.Kind {
	case events.KindRunEvent:
		payload, err := json.Marshal(e.Run)
		if err != nil {
			h.log.WithError(err).Warn("marshal run event")
			return
		}
		f := frame("event", payload)
		h.broadcast(e.Run.RunID, f)
		if h.tail == nil {
			return
		}
		if e.Run.Cmd == messaging.RunCmdFinished {
			// The run is over, durable logs take it from here.
			if err := h.tail.Drop(e.Run.RunID); err != nil {
				h.log.WithError(err).Warn("drop tail")
			}
			return
		}
		if err := h.tail.Push(e.Run.RunID, f); err != nil {
			h.log.WithError(err).Warn("push tail")
		}
	case events.KindLogChunk:
		payload, err := json.Marshal(e.Chunk)
		if err != nil {
			h.log.WithError(err).Warn("marshal log chunk")
			return
		}
		f := frame("log", payload)
		h.broadcast(e.Chunk.RunID, f)
		if h.tail != nil {
			if err := h.tail.Push(e.Chunk.RunID, f); err != nil {
				h.log.WithError(err).Warn("push tail")
			}
		}
	}
}

// frame wraps a payload in the envelope subscribers expect. The pooled
// buffer only assembles the frame, the returned slice is a copy.
func frame(kind string, payload []byte) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString(`{"type":"`)
	buf.WriteString(kind)
	buf.WriteString(`","data":`)
	buf.Write(payload)
	buf.WriteByte('}')
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out
}

func (h *Hub) broadcast(runID string, f []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[runID] {
		select {
		case c.send <- f:
		default:
			// Slow consumer, the frame is dropped rather than stalling
			// everyone else on the run.
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[c.runID] == nil {
		h.subs[c.runID] = make(map[*client]struct{})
	}
	h.subs[c.runID][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[c.runID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.subs, c.runID)
	}
}

type client struct {
	hub   *Hub
	runID string
	conn  *websocket.Conn
	send  chan []byte
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages, the stream is one way. It exists to
// run the pong handler and notice the peer going away.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
