package chat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/model/chat"
	"github.com/phucdat/portal/backend/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Watcher streams new messages of a chatflow.
type Watcher interface {
	Watch(ctx context.Context, chatflowID string, since time.Time, interval time.Duration) <-chan []chat.Message
}

type outgoingMessage struct {
	Type       string      `json:"type"`
	ChatflowID string      `json:"chatflowId"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

// LiveHandler upgrades to a websocket and pushes new chat messages.
type LiveHandler struct {
	watcher  Watcher
	interval time.Duration
	upgrader websocket.Upgrader
	// shutdown ends every open feed when cancelled, independently of the
	// request context.
	shutdown context.Context
}

// NewLiveHandler builds the live feed. Browsers may connect from the
// portal's own origin or any of allowedOrigins.
func NewLiveHandler(watcher Watcher, allowedOrigins []string) *LiveHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return &LiveHandler{
		watcher:  watcher,
		shutdown: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed[origin]; ok {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatflowID := chi.URLParam(r, "chatflowID")
	logger := zerolog.Ctx(r.Context()).With().Str("chatflow", chatflowID).Logger()

	since, err := parseSince(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := h.feedContext(r.Context())
	defer cancel()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The feed is server-to-client; reading only services control frames
	// and notices the client leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("live feed read error")
				}
				return
			}
		}
	}()

	feed := h.watcher.Watch(ctx, chatflowID, since, h.interval)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	logger.Info().Time("since", since).Msg("live feed opened")
	if err := writeJSON(conn, outgoingMessage{Type: "connected", ChatflowID: chatflowID}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			logger.Info().Msg("live feed closed")
			return
		case batch, ok := <-feed:
			if !ok {
				feed = nil
				cancel()
				continue
			}
			if err := writeJSON(conn, outgoingMessage{Type: "messages", ChatflowID: chatflowID, Data: batch}); err != nil {
				logger.Debug().Err(err).Msg("live feed write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// feedContext derives a feed context from the request that also ends when
// the server begins shutting down.
func (h *LiveHandler) feedContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(h.shutdown, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// parseSince reads the since query parameter, defaulting to now.
func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("since must be an RFC 3339 timestamp")
	}
	return t, nil
}

func writeJSON(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
