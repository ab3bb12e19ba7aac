package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// History handles GET /messages?chatId=&limit=&before=. Messages come
// back newest first; "before" pages further back from the oldest
// sequence number of the previous page.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	chatID, err := uuid.Parse(r.URL.Query().Get("chatId"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "chatId must be a valid chat id")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	var beforeSeq int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		beforeSeq, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || beforeSeq < 1 {
			h.Error(w, http.StatusBadRequest, "before must be a positive sequence number")
			return
		}
	}

	messages, err := h.pipeline.History(r.Context(), chatID, me, limit, beforeSeq)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, messages)
}
