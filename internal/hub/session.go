package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one downstream client connection. The write pump is the only
// goroutine writing data frames to the socket; everything else goes through
// the send queue.
type session struct {
	id     int64
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id int64, conn *websocket.Conn, sendBuffer int, logger *slog.Logger) *session {
	return &session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// enqueue attempts a non-blocking delivery to this session.
func (s *session) enqueue(frame []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// close cancels pending sends and closes the socket. Safe to call twice.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// readPump consumes client frames until the connection dies. It runs the
// hub's control dispatch inline; the read deadline is refreshed by pongs
// and by any client data.
func (h *hub) readPump(s *session) {
	defer h.wg.Done()
	defer h.dropSession(s)

	s.conn.SetReadLimit(64 << 10)
	s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("client read failed", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handleControl(s, data)
	}
}

// writePump is the session's single socket writer.
func (h *hub) writePump(s *session) {
	defer h.wg.Done()

	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("client write failed", "error", err)
				s.close()
				return
			}
		}
	}
}
