package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/chat"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/handlers"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/presence"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := store.NewMemoryStore()
	tracker := presence.New(st, nil, zerolog.Nop())
	directory := chat.NewDirectory(st, nil, zerolog.Nop())
	pipeline := chat.NewPipeline(st, tracker, nil, zerolog.Nop())

	auth := middleware.NewAuthMiddleware("test-secret")
	h := handlers.NewHandler(st, nil, auth, directory, pipeline, tracker)

	router := NewRouter(RouterConfig{
		Logger:  zerolog.Nop(),
		Handler: h,
		Auth:    auth,
		ServeWS: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func registerUser(t *testing.T, srv *httptest.Server, username string) handlers.AuthResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", handlers.RegisterRequest{
		Username: username,
		Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[handlers.AuthResponse](t, resp)
}

func TestRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	created := registerUser(t, srv, "alice")
	req.NotEmpty(created.Token)
	req.Equal("alice", created.User.Username)

	// Duplicate username is rejected.
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", handlers.RegisterRequest{
		Username: "alice",
		Password: "correct-horse",
	})
	req.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Valid credentials log in.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", handlers.LoginRequest{
		Username: "alice",
		Password: "correct-horse",
	})
	req.Equal(http.StatusOK, resp.StatusCode)
	logged := decodeBody[handlers.AuthResponse](t, resp)
	req.NotEmpty(logged.Token)

	// Wrong password does not.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", handlers.LoginRequest{
		Username: "alice",
		Password: "wrong",
	})
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterValidation(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", handlers.RegisterRequest{
		Username: "x",
		Password: "correct-horse",
	})
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", handlers.RegisterRequest{
		Username: "valid-name",
		Password: "short",
	})
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/chats")
	req.NoError(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestDirectChatAndMessageFlow(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := registerUser(t, srv, "alice")
	bob := registerUser(t, srv, "bob")

	// Alice opens a chat with bob.
	resp := doJSON(t, http.MethodPost, srv.URL+"/chats", alice.Token,
		handlers.AccessChatRequest{UserID: bob.User.ID.String()})
	req.Equal(http.StatusOK, resp.StatusCode)
	direct := decodeBody[models.Chat](t, resp)
	req.False(direct.IsGroup)

	// Bob opening it from his side lands on the same chat.
	resp = doJSON(t, http.MethodPost, srv.URL+"/chats", bob.Token,
		handlers.AccessChatRequest{UserID: alice.User.ID.String()})
	req.Equal(http.StatusOK, resp.StatusCode)
	same := decodeBody[models.Chat](t, resp)
	req.Equal(direct.ID, same.ID)

	// Both see it in their chat lists.
	resp = doJSON(t, http.MethodGet, srv.URL+"/chats", bob.Token, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	chats := decodeBody[[]models.Chat](t, resp)
	req.Len(chats, 1)

	// History starts empty and only admits members.
	histURL := fmt.Sprintf("%s/messages?chatId=%s", srv.URL, direct.ID)
	resp = doJSON(t, http.MethodGet, histURL, alice.Token, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Empty(decodeBody[[]models.Message](t, resp))

	eve := registerUser(t, srv, "eve")
	resp = doJSON(t, http.MethodGet, histURL, eve.Token, nil)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestGroupChatLifecycle(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	admin := registerUser(t, srv, "admin")
	m1 := registerUser(t, srv, "member1")
	m2 := registerUser(t, srv, "member2")
	late := registerUser(t, srv, "latecomer")

	resp := doJSON(t, http.MethodPost, srv.URL+"/chats/group", admin.Token,
		handlers.CreateGroupRequest{
			Name:    "kitchen",
			UserIDs: []string{m1.User.ID.String(), m2.User.ID.String()},
		})
	req.Equal(http.StatusCreated, resp.StatusCode)
	group := decodeBody[models.Chat](t, resp)
	req.True(group.IsGroup)
	req.Len(group.Members, 3)

	// Rename.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/chats/rename", admin.Token,
		handlers.RenameChatRequest{ChatID: group.ID.String(), Name: "pastry"})
	req.Equal(http.StatusOK, resp.StatusCode)
	renamed := decodeBody[models.Chat](t, resp)
	req.Equal("pastry", renamed.Name)

	// Only the admin can add members.
	addReq := handlers.MemberRequest{ChatID: group.ID.String(), UserID: late.User.ID.String()}
	resp = doJSON(t, http.MethodPut, srv.URL+"/chats/groupadd", m1.Token, addReq)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, srv.URL+"/chats/groupadd", admin.Token, addReq)
	req.Equal(http.StatusOK, resp.StatusCode)
	grown := decodeBody[models.Chat](t, resp)
	req.Len(grown.Members, 4)

	// A member can leave on their own.
	leaveReq := handlers.MemberRequest{ChatID: group.ID.String(), UserID: m2.User.ID.String()}
	resp = doJSON(t, http.MethodPut, srv.URL+"/chats/groupremove", m2.Token, leaveReq)
	req.Equal(http.StatusOK, resp.StatusCode)
	shrunk := decodeBody[models.Chat](t, resp)
	req.Len(shrunk.Members, 3)
}

func TestUserSearchExcludesSelf(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := registerUser(t, srv, "alice")
	registerUser(t, srv, "alicia")
	registerUser(t, srv, "bob")

	resp := doJSON(t, http.MethodGet, srv.URL+"/users/search?q=ali", alice.Token, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	results := decodeBody[[]models.UserSummary](t, resp)
	req.Len(results, 1)
	req.Equal("alicia", results[0].Username)
}

func TestHealthAndInfo(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	health := decodeBody[handlers.HealthResponse](t, resp)
	req.Equal("healthy", health.Status)
	req.Equal("pass", health.Checks["database"].Status)

	resp, err = http.Get(srv.URL + "/api")
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
