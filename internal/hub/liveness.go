package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// livenessLoop pings every session on a fixed interval. A session whose
// transport stops answering misses its read deadline and fails its read
// pump, entering the normal disconnect path. No registry state is touched
// from here.
func (h *hub) livenessLoop() {
	defer h.wg.Done()

	ticker := h.clock.Ticker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.pingSessions()
		}
	}
}

func (h *hub) pingSessions() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		if err := s.conn.WriteControl(websocket.PingMessage, []byte("liveness"), deadline); err != nil {
			// The read pump notices the dead transport on its own.
			s.logger.Debug("liveness ping failed", "error", err)
		}
	}
}
