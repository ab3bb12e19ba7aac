package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers    int64 `json:"total_users"`
	TotalChats    int64 `json:"total_chats"`
	TotalMessages int64 `json:"total_messages"`
	UsersOnline   int   `json:"users_online"`
}

// Stats returns aggregate platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.store.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalChats, err := h.store.CountChats(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count chats")
		return
	}

	totalMessages, err := h.store.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:    totalUsers,
		TotalChats:    totalChats,
		TotalMessages: totalMessages,
		UsersOnline:   len(h.presence.Online()),
	})
}
