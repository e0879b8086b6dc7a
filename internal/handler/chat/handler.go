package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chatService "github.com/phucdat/portal/backend/internal/service/chat"
	"github.com/phucdat/portal/backend/pkg/utils"
)

// Handler serves the chat history API.
type Handler struct {
	chatSvc *chatService.Service
	loc     *time.Location
	live    *LiveHandler
}

// New builds the chat history handler. Bare dates in queries are read in loc.
func New(chatSvc *chatService.Service, loc *time.Location, allowedOrigins []string) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		chatSvc: chatSvc,
		loc:     loc,
		live:    NewLiveHandler(chatSvc, allowedOrigins),
	}
}

// CloseFeedsOn ends open live feeds and event streams once ctx is done, so a
// graceful shutdown does not wait on them. A nil ctx is ignored.
func (h *Handler) CloseFeedsOn(ctx context.Context) *Handler {
	if ctx != nil {
		h.live.shutdown = ctx
	}
	return h
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chatflows", h.handleListChatflows)
	r.Get("/conversations", h.handleListAllConversations)
	r.Route("/chatflows/{chatflowID}", func(r chi.Router) {
		r.Get("/conversations", h.handleListConversations)
		r.Get("/conversations/{conversationID}", h.handleGetConversation)
		r.Post("/conversations/{conversationID}/summary", h.handleSummarize)
		r.Get("/live", h.live.ServeHTTP)
		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) handleListChatflows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.chatSvc.ListChatflows(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"items": flows})
}

func (h *Handler) handleListAllConversations(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.chatSvc.ListAllConversations(r.Context(), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, page)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.chatSvc.ListConversations(r.Context(), chi.URLParam(r, "chatflowID"), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.GetConversation(r.Context(), chi.URLParam(r, "chatflowID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	summary, err := h.chatSvc.Summarize(r.Context(), chi.URLParam(r, "chatflowID"), conversationID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"conversationId": conversationID,
		"summary":        summary,
	})
}

func (h *Handler) parseQuery(r *http.Request) (chatService.Query, error) {
	q := chatService.Query{
		Search:   r.URL.Query().Get("search"),
		ChatType: r.URL.Query().Get("chatType"),
	}

	var err error
	if q.From, err = utils.QueryTime(r, "from", h.loc, false); err != nil {
		return q, err
	}
	if q.To, err = utils.QueryTime(r, "to", h.loc, true); err != nil {
		return q, err
	}
	if q.Limit, err = utils.QueryInt(r, "limit", chatService.DefaultLimit); err != nil {
		return q, err
	}
	if q.Offset, err = utils.QueryInt(r, "offset", 0); err != nil {
		return q, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return q, errors.New("to must not be before from")
	}
	return q, nil
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chatService.ErrChatflowNotFound):
		utils.RespondError(w, http.StatusNotFound, chatService.ErrChatflowNotFound.Error())
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSummaryUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("chat backend request failed")
		utils.RespondError(w, http.StatusBadGateway, "chat backend unavailable")
	}
}
