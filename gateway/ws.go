package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tripstream/tripstream/metrics"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway fronts first-party clients; origin policy belongs to the
	// proxy in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTaskStream upgrades to a websocket and streams task snapshots: the
// current one immediately, then every transition until the task reaches a
// terminal state, at which point the server closes the stream.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	events, cancel, err := s.progress.Subscribe(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.logger.Warn("Websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	metrics.ProgressSubscribers.Inc()
	defer metrics.ProgressSubscribers.Dec()

	// Reader goroutine: surfaces client disconnects. Clients send no data.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot, ok := <-events:
			if !ok {
				// Terminal snapshot delivered (or subscriber dropped for
				// falling behind); either way the stream is over.
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(summarize(snapshot)); err != nil {
				s.logger.Debug("Websocket write failed", "task_id", taskID, "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
