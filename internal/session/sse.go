package session

import (
	"fmt"
	"net/http"
	"time"

	"gatewayd/pkg/logging"
)

// ServeSSE handles one GET /sse connection end-to-end: it creates a
// session, writes the endpoint event naming the companion POST endpoint,
// then loops writing keep-alive comments and fanned-out message events
// until the client disconnects or the session idles out.
func (m *Manager) ServeSSE(w http.ResponseWriter, r *http.Request, messagePath string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	session := m.Create()
	defer m.Remove(session.ID)

	logging.Debug("session", "opened session %s", logging.TruncateSessionID(session.ID))

	endpoint := fmt.Sprintf("%s?sessionId=%s", messagePath, session.ID)
	writeEvent(w, Event{Name: "endpoint", Data: []byte(endpoint)})
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logging.Debug("session", "session %s disconnected", logging.TruncateSessionID(session.ID))
			return
		case <-session.closeCh:
			logging.Debug("session", "session %s closed (idle timeout)", logging.TruncateSessionID(session.ID))
			return
		case ev := <-session.events:
			writeEvent(w, ev)
			flusher.Flush()
			session.touch()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	if ev.Name != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Name)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Data)
}
