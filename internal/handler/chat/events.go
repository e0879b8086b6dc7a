package chat

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/pkg/utils"
)

const heartbeatPeriod = 15 * time.Second

// handleEvents is the Server-Sent Events variant of the live feed, for
// clients behind proxies that do not pass websocket upgrades.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	chatflowID := chi.URLParam(r, "chatflowID")
	logger := zerolog.Ctx(r.Context()).With().Str("chatflow", chatflowID).Logger()

	since, err := parseSince(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := h.live.feedContext(r.Context())
	defer cancel()

	feed := h.live.watcher.Watch(ctx, chatflowID, since, h.live.interval)
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	logger.Info().Time("since", since).Msg("event stream opened")
	if err := sse.Event("connected", map[string]string{"chatflowId": chatflowID}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("event stream closed")
			return
		case batch, ok := <-feed:
			if !ok {
				return
			}
			if err := sse.Event("messages", batch); err != nil {
				logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := sse.Comment("heartbeat"); err != nil {
				return
			}
		}
	}
}
