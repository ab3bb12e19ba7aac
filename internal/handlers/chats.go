package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
)

// AccessChatRequest asks for the one-to-one chat with another user,
// creating it on first contact.
type AccessChatRequest struct {
	UserID string `json:"userId"`
}

// AccessChat handles POST /chats.
func (h *Handler) AccessChat(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	var req AccessChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	other, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "userId must be a valid user id")
		return
	}

	chat, err := h.directory.GetOrCreateDirectChat(r.Context(), me, other)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, chat)
}

// ListChats handles GET /chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	chats, err := h.directory.ListChatsForUser(r.Context(), me)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, chats)
}

// CreateGroupRequest creates a named group chat.
type CreateGroupRequest struct {
	Name    string   `json:"name"`
	UserIDs []string `json:"users"`
}

// CreateGroup handles POST /chats/group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "users must be valid user ids")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	chat, err := h.directory.CreateGroupChat(r.Context(), sanitizeName(req.Name), memberIDs, me)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, chat)
}

// RenameChatRequest renames a chat.
type RenameChatRequest struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

// RenameChat handles PATCH /chats/rename.
func (h *Handler) RenameChat(w http.ResponseWriter, r *http.Request) {
	var req RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "chatId must be a valid chat id")
		return
	}

	chat, err := h.directory.RenameChat(r.Context(), chatID, sanitizeName(req.Name))
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, chat)
}

// MemberRequest adds or removes a group member.
type MemberRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func (h *Handler) parseMemberRequest(w http.ResponseWriter, r *http.Request) (chatID, userID uuid.UUID, ok bool) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return uuid.Nil, uuid.Nil, false
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "chatId must be a valid chat id")
		return uuid.Nil, uuid.Nil, false
	}
	userID, err = uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "userId must be a valid user id")
		return uuid.Nil, uuid.Nil, false
	}
	return chatID, userID, true
}

// AddGroupMember handles PUT /chats/groupadd.
func (h *Handler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	chatID, userID, ok := h.parseMemberRequest(w, r)
	if !ok {
		return
	}

	chat, err := h.directory.AddMember(r.Context(), chatID, me, userID)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, chat)
}

// RemoveGroupMember handles PUT /chats/groupremove.
func (h *Handler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.GetUserID(r.Context())

	chatID, userID, ok := h.parseMemberRequest(w, r)
	if !ok {
		return
	}

	chat, err := h.directory.RemoveMember(r.Context(), chatID, me, userID)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, chat)
}
