package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gantryci/gantry/server/httpserver/auth"
	"github.com/gantryci/gantry/server/httpserver/config"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{"json"},
	// The dashboard is served from another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the hub on its own port, away from the API listener.
type Server struct {
	hub *Hub
	srv *http.Server
	log *logrus.Entry
}

func NewServer(conf *config.Configs, hub *Hub, logger *logrus.Entry) *Server {
	s := &Server{hub: hub, log: logger}
	router := mux.NewRouter().StrictSlash(true)
	router.Handle("/stream/runs/{id}", authMiddleware(http.HandlerFunc(s.serveRun)))
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.HTTPServer.BindAddr, conf.Stream.Port),
		Handler: router,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.log.Infof("stream listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if runID == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade")
		return
	}
	c := &client{
		hub:   s.hub,
		runID: runID,
		conn:  conn,
		send:  make(chan []byte, 256),
	}
	// Recent history goes out before the client joins the live feed. A
	// line landing during the replay reaches the next subscriber; the
	// durable log has them all.
	if s.hub.tail != nil {
		lines, err := s.hub.tail.Replay(runID)
		if err != nil {
			s.log.WithError(err).Warn("tail replay")
		}
		for _, line := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				conn.Close()
				return
			}
		}
	}
	s.hub.add(c)
	go c.writePump()
	go c.readPump()
}

func authMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.VerifyRequest(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
