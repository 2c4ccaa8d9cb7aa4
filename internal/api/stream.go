package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"routeopt/internal/events"
	"routeopt/internal/optimizer"
)

const (
	sseHeartbeat = 15 * time.Second
	wsPingEvery  = 20 * time.Second
	wsReadWait   = 60 * time.Second
	wsWriteWait  = 10 * time.Second
)

// checkOrigin admits websocket upgrades from the configured ALLOWED_ORIGINS. gorilla answers 403
// when it returns false.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.Config == nil || s.Config.AllowsOrigin(r.Header.Get("Origin")) {
		return true
	}
	s.Log.Warn("websocket origin rejected", zap.String("origin", r.Header.Get("Origin")), zap.String("path", r.URL.Path))
	return false
}

// OptimizerStatusEvent is the optimizer.status notification for st.
func OptimizerStatusEvent(st optimizer.Status) events.Event {
	return events.Event{Type: events.TypeOptimizerStatus, Data: map[string]any{
		"state":     string(st.State),
		"checkedAt": st.CheckedAt,
		"detail":    st.Detail,
	}}
}

// PublishOptimizerStatus returns a status listener that fans changes out on the optimizer topic.
func PublishOptimizerStatus(b events.Broker) func(optimizer.Status) {
	return func(st optimizer.Status) { b.Publish(events.OptimizerTopic, OptimizerStatusEvent(st)) }
}

// SessionStreamHandler streams session.state events over SSE, starting with the current state.
func (s *Server) SessionStreamHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), getPrincipal(r).Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	s.serveSSE(w, r, sess.ID, sess.StateEvent())
}

// OptimizerStreamHandler streams optimizer.status events over SSE.
func (s *Server) OptimizerStreamHandler(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, events.OptimizerTopic, OptimizerStatusEvent(s.Optimizer.Status()))
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, topic string, first events.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, first); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt events.Event) error {
	b, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b)
	return err
}

// SessionWSHandler streams session.state events over a websocket. Client messages are ignored.
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), getPrincipal(r).Tenant, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(sess.ID)
	defer s.Broker.Unsubscribe(sess.ID, ch)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadWait)) })

	// The reader only drains control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(evt events.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}
	if err := write(sess.StateEvent()); err != nil {
		return
	}
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			if err := write(evt); err != nil {
				s.Log.Debug("websocket write", zap.String("session", sess.ID), zap.Error(err))
				return
			}
		}
	}
}
