package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/convo-coach/internal/audio"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// browser clients connect from the dashboard origin
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
}

// StreamMessage is one client event on the capture websocket
type StreamMessage struct {
	Event string       `json:"event"` // start, media or stop
	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
}

// StreamStart opens a live session
type StreamStart struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

// StreamMedia carries one audio chunk
type StreamMedia struct {
	Payload    string `json:"payload"`              // base64 audio
	Encoding   string `json:"encoding,omitempty"`   // pcm16 (default) or mulaw
	SampleRate int    `json:"sampleRate,omitempty"` // defaults to the provider rate
}

// StreamReply is sent back after start and stop, and on errors
type StreamReply struct {
	Event    string            `json:"event"` // snapshot or error
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Error    *errorResponse    `json:"error,omitempty"`
}

// handleStream ingests live capture over a websocket. Closing the socket
// without a stop event leaves the session running until stopped elsewhere.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade capture connection")
		return
	}
	defer conn.Close()

	logger := observability.WithCorrelationID("")
	logger.Info().Str("remote", r.RemoteAddr).Msg("Capture stream connected")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go s.keepAlive(ctx, conn)

	reply := func(rep StreamReply) error {
		return writeMessage(conn, rep)
	}
	replyErr := func(err error) error {
		resp := newErrorResponse(err)
		return reply(StreamReply{Event: "error", Error: &resp})
	}

	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Capture stream read error")
			}
			return
		}

		switch msg.Event {
		case "start":
			opts := session.StartOptions{}
			if msg.Start != nil {
				opts.UserID, opts.Title = msg.Start.UserID, msg.Start.Title
			}
			snap, err := s.sessions.StartLive(ctx, opts)
			if err != nil {
				if replyErr(err) != nil {
					return
				}
				continue
			}
			logger.Info().Str("session_id", snap.SessionID).Msg("Live session started over websocket")
			if reply(StreamReply{Event: "snapshot", Snapshot: &snap}) != nil {
				return
			}

		case "media":
			if err := s.ingest(msg.Media); err != nil {
				if errors.Is(err, session.ErrNoSession) || errors.Is(err, errBadMedia) {
					if replyErr(err) != nil {
						return
					}
				}
				logger.Debug().Err(err).Msg("Dropped media chunk")
			}

		case "stop":
			snap, err := s.sessions.Stop(ctx)
			if err != nil {
				if replyErr(err) != nil {
					return
				}
				continue
			}
			reply(StreamReply{Event: "snapshot", Snapshot: &snap})
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped"), time.Now().Add(writeWait))
			return

		default:
			logger.Warn().Str("event", msg.Event).Msg("Unknown capture event")
		}
	}
}

var errBadMedia = errors.New("invalid media payload")

func (s *Server) ingest(media *StreamMedia) error {
	if media == nil || media.Payload == "" {
		return errBadMedia
	}
	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return errBadMedia
	}
	rate := media.SampleRate
	if rate <= 0 {
		rate = s.opts.SampleRate
	}
	pcm, err := audio.ToProviderPCM(raw, media.Encoding, rate, s.opts.SampleRate)
	if err != nil {
		return errors.Join(errBadMedia, err)
	}
	return s.sessions.SendAudio(pcm)
}

// handleLive pushes a snapshot on every controller change
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade live feed connection")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.sessions.Subscribe()
	defer unsubscribe()

	// reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, snap); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
