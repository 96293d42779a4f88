package ginserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pingme/internal/auth"
	"pingme/internal/chat"
	"pingme/internal/domain/user"
	"pingme/internal/infra/config"
	"pingme/internal/infra/obs"
	"pingme/internal/infra/storage/memory"
	"pingme/internal/presence"
	"pingme/internal/realtime"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewChatStore()
	registry := realtime.NewRegistry()
	t.Cleanup(registry.Close)
	hub := &realtime.Hub{Registry: registry, Conversations: store}
	tracker := presence.NewTracker(memory.NewLastSeenStore(), nil)
	service := &chat.Service{
		Conversations: store,
		Messages:      store,
		Receipts:      store,
		Broadcast:     hub,
	}
	resolver := auth.NewStaticResolver(map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
		"tok-eve":   "eve",
	})
	users := memory.NewUserRepository()
	for _, handle := range []string{"alice", "bob"} {
		u, err := user.New(user.CreateParams{ID: handle, Handle: handle})
		if err != nil {
			t.Fatalf("seed user %s: %v", handle, err)
		}
		if err := users.Save(context.Background(), u); err != nil {
			t.Fatalf("save user %s: %v", handle, err)
		}
	}

	server := NewServer(
		config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{},
		obs.HealthHandlers{},
		Handlers{
			Chat:           ChatHandler{Service: service, Presence: tracker},
			Users:          &UserHandler{Users: users},
			AuthMiddleware: AuthMiddleware{Resolver: resolver}.Handle,
		},
	)
	return server.Handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createConversation(t *testing.T, handler http.Handler, token, peer string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversations", token, `{"userId":"`+peer+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create conversation = %d: %s", rec.Code, rec.Body.String())
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv.ID
}

func TestRoutesRequireAuth(t *testing.T) {
	handler := newTestServer(t)
	for _, path := range []string{"/api/v1/conversations", "/api/v1/users/bob/presence"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d, want 401", path, rec.Code)
		}
	}
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/conversations", "bogus", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token = %d, want 401", rec.Code)
	}
}

func TestSendAndListMessagesOverHTTP(t *testing.T) {
	handler := newTestServer(t)
	conversationID := createConversation(t, handler, "tok-alice", "bob")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", "tok-alice", `{"text":"hello bob"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d: %s", rec.Code, rec.Body.String())
	}
	var sent messageDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if sent.ID == 0 || sent.Text != "hello bob" || sent.SenderID != "alice" {
		t.Fatalf("sent = %+v", sent)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", "tok-bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", rec.Code, rec.Body.String())
	}
	var list messageListDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != sent.ID {
		t.Fatalf("list = %+v", list)
	}
	if list.NextCursor != nil {
		t.Fatalf("short page returned cursor %q", *list.NextCursor)
	}
	// exhausted history carries an explicit null, not a missing field
	if !strings.Contains(rec.Body.String(), `"nextCursor":null`) {
		t.Fatalf("last page must serialize nextCursor as null: %s", rec.Body.String())
	}
}

func TestListMessagesEmitsCursorOnFullPage(t *testing.T) {
	handler := newTestServer(t)
	conversationID := createConversation(t, handler, "tok-alice", "bob")
	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", "tok-alice", `{"text":"m"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send %d = %d", i, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages?limit=2", "tok-bob", "")
	var page messageListDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.NextCursor == nil || *page.NextCursor == "" {
		t.Fatal("full page must carry a next cursor")
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages?limit=2&cursor="+*page.NextCursor, "tok-bob", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode last page: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Fatalf("last page = %+v", page)
	}
}

func TestMessageEndpointsEnforceMembership(t *testing.T) {
	handler := newTestServer(t)
	conversationID := createConversation(t, handler, "tok-alice", "bob")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", "tok-eve", `{"text":"let me in"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider send = %d, want 403", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", "tok-eve", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider list = %d, want 403", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID, "tok-eve", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider get = %d, want 403", rec.Code)
	}
}

func TestListMessagesValidation(t *testing.T) {
	handler := newTestServer(t)
	conversationID := createConversation(t, handler, "tok-alice", "bob")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages?limit=abc", "tok-alice", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages?limit=-1", "tok-alice", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit = %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages?cursor=%21%21", "tok-alice", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor = %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/conversations/missing/messages", "tok-alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation = %d, want 404", rec.Code)
	}
}

func TestMarkReadOverHTTP(t *testing.T) {
	handler := newTestServer(t)
	conversationID := createConversation(t, handler, "tok-alice", "bob")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", "tok-alice", `{"text":"hi"}`)
	var sent messageDTO
	_ = json.Unmarshal(rec.Body.Bytes(), &sent)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/read", "tok-bob", `{"messageId":`+jsonInt(sent.ID)+`}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/conversations/"+conversationID+"/read", "tok-bob", `{"messageId":99999}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown message = %d, want 404", rec.Code)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/bob/presence", "tok-alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("presence = %d: %s", rec.Code, rec.Body.String())
	}
	var out presenceDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if out.Online {
		t.Fatal("bob has no connections and must be offline")
	}
}

func TestUserDirectory(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/bob", "tok-alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get user = %d: %s", rec.Code, rec.Body.String())
	}
	var profile userDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if profile.ID != "bob" || profile.Handle != "bob" {
		t.Fatalf("profile = %+v", profile)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users?handle=Alice", "tok-bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve handle = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if profile.ID != "alice" {
		t.Fatalf("resolved = %+v", profile)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users?handle=", "tok-bob", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank handle = %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/nobody", "tok-bob", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d, want 404", rec.Code)
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
