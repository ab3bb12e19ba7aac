package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/chat"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/presence"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// usernameRegex limits usernames to a url-safe shape.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,32}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.DataStore
	redis     *store.RedisStore
	auth      *middleware.AuthMiddleware
	directory *chat.Directory
	pipeline  *chat.Pipeline
	presence  *presence.Tracker
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(st store.DataStore, redis *store.RedisStore, auth *middleware.AuthMiddleware, directory *chat.Directory, pipeline *chat.Pipeline, tracker *presence.Tracker) *Handler {
	return &Handler{
		store:     st,
		redis:     redis,
		auth:      auth,
		directory: directory,
		pipeline:  pipeline,
		presence:  tracker,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a domain error to its HTTP status and client-safe message.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	h.Error(w, apperr.HTTPStatus(err), apperr.Message(err))
}

// sanitizeName trims and limits a display name to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidUsername checks the login name shape.
func isValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}
