package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linqiu/chatdesk/backend/internal/model/chat"
	chatService "github.com/linqiu/chatdesk/backend/internal/service/chat"
	"github.com/linqiu/chatdesk/backend/pkg/utils"
)

// Completer turns a conversation history into an assistant reply.
type Completer interface {
	GetReply(ctx context.Context, history []chat.Turn) (string, error)
}

// Handler exposes the session and message REST surface.
type Handler struct {
	chatSvc *chatService.Service
	gateway Completer
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, gateway Completer) *Handler {
	return &Handler{chatSvc: chatSvc, gateway: gateway}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Post("/sessions/{sessionID}/rollback", h.handleRollback)
	r.Delete("/sessions/{sessionID}/messages/{msgIndex}", h.handleDeleteMessage)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

// handleListSessions returns session summaries, most recently updated first.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListSessions(r.Context()))
}

// handleCreateSession provisions a new empty session.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

// handleListMessages returns the session transcript with positional ids.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	views, err := h.chatSvc.ListMessages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

// handleSendMessage appends the user turn, asks the gateway for a reply,
// appends that too, and returns the full transcript. The user's message is
// committed before the gateway call, so a gateway failure never loses it.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	history, err := h.chatSvc.AppendUserMessage(r.Context(), sessionID, payload.Content)
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	reply, err := h.gateway.GetReply(r.Context(), history)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("completion call failed: %v", err))
		return
	}

	if err := h.chatSvc.AppendAssistantMessage(r.Context(), sessionID, reply); err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	h.respondTranscript(w, r, sessionID)
}

// handleRollback truncates the transcript to a prefix length.
func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ToIndex int `json:"to_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.Rollback(r.Context(), sessionID, payload.ToIndex); err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	h.respondTranscript(w, r, sessionID)
}

// handleDeleteMessage removes one message by its current position.
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "msgIndex"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid message index")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.DeleteMessage(r.Context(), sessionID, index); err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	h.respondTranscript(w, r, sessionID)
}

// handleDeleteSession removes the whole session.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.DeleteSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

func (h *Handler) respondTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	views, err := h.chatSvc.ListMessages(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrEmptyContent), errors.Is(err, chatService.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
