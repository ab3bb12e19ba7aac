package handlers

import (
	"net/http"
	"strings"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

const searchLimit = 20

// SearchUsers handles GET /users/search?q=. Matches against username and
// display name, excluding the caller from the results.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := h.store.SearchUsers(r.Context(), query, searchLimit+1)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	filtered := make([]models.UserSummary, 0, len(results))
	for _, u := range results {
		if u.ID == me {
			continue
		}
		u.IsOnline = h.presence.IsOnline(u.ID)
		filtered = append(filtered, u)
		if len(filtered) == searchLimit {
			break
		}
	}

	h.JSON(w, http.StatusOK, filtered)
}
