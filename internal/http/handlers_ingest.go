package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
)

type ingestResult struct {
	Variant     string `json:"variant"`
	Ignored     bool   `json:"ignored"`
	StateMerged bool   `json:"stateMerged"`
	Records     int    `json:"records"`
	Mode        string `json:"mode,omitempty"`
}

func toIngestResult(res ingest.Result) ingestResult {
	out := ingestResult{
		Variant:     res.Variant.String(),
		Ignored:     res.Variant == ingest.VariantNone && !res.StateMerged,
		StateMerged: res.StateMerged,
		Records:     res.Records,
	}
	if res.Variant == ingest.VariantCompartments {
		out.Mode = res.Mode.String()
	}
	return out
}

// ingestStatus maps a Receive error to a status code and message.
func ingestStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrMalformed):
		return http.StatusBadRequest, "payload is not valid JSON"
	case errors.Is(err, ingest.ErrAborted):
		return http.StatusInternalServerError, "payload handling aborted"
	default:
		return http.StatusInternalServerError, "failed to apply payload"
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, s.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		PayloadTooLargeError(s.maxBody).Write(w)
		return
	}
	if err != nil {
		BadRequestError("could not read request body").Write(w)
		return
	}

	res, err := s.receiver.Receive(ctx, log.TransportHTTP, body)
	if err != nil {
		code, msg := ingestStatus(err)
		ErrorResponse(code, msg).Write(w)
		return
	}
	NewResponse().JSON(toIngestResult(res)).Write(w)
}

// socketMessage is every frame the server writes on /ws/ingest.
type socketMessage struct {
	Type    string        `json:"type"`
	Version uint64        `json:"version,omitempty"`
	Changes []string      `json:"changes,omitempty"`
	Result  *ingestResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

const (
	messageAck    = "ack"
	messageError  = "error"
	messageUpdate = "update"
)

// socket serializes writes; gorilla allows one concurrent writer.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *socket) send(m socketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(m)
}

// handleIngestSocket accepts one payload per text frame and answers each
// with an ack or an error. Session changes from any source are pushed as
// update frames.
func (s *Server) handleIngestSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "WebSocket upgrade failed", log.FieldError, err)
		return
	}
	if !s.track(conn) {
		closeSocket(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	logger := log.FromContext(ctx)
	logger.InfoContext(ctx, "Ingest socket connected")

	sock := &socket{conn: conn}
	events, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := sock.send(socketMessage{Type: messageUpdate, Version: ev.Version, Changes: ev.Changes}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(s.maxBody)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnContext(ctx, "Ingest socket closed", log.FieldError, err)
			} else {
				logger.InfoContext(ctx, "Ingest socket disconnected")
			}
			return
		}

		res, err := s.receiver.Receive(ctx, log.TransportWebSocket, msg)
		reply := socketMessage{Type: messageAck}
		if err != nil {
			_, text := ingestStatus(err)
			reply = socketMessage{Type: messageError, Error: text}
		} else {
			out := toIngestResult(res)
			reply.Result = &out
		}
		if err := sock.send(reply); err != nil {
			logger.WarnContext(ctx, "Ingest socket write failed", log.FieldError, err)
			return
		}
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	if s.closing {
		return false
	}
	s.sockets[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.socketsMu.Lock()
	delete(s.sockets, conn)
	s.socketsMu.Unlock()
}

// closeSockets ends every open ingest socket and refuses new ones.
func (s *Server) closeSockets() {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	s.closing = true
	for conn := range s.sockets {
		closeSocket(conn, websocket.CloseGoingAway, "server shutting down")
	}
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// ActiveSockets returns the number of open ingest sockets.
func (s *Server) ActiveSockets() int {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	return len(s.sockets)
}
