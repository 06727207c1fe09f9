package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/auth"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/database"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/ids"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/polls"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type apiStack struct {
	server *httptest.Server
	users  *users.Service
	relay  *relay.Relay
}

type apiPagination struct {
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type apiResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Data         json.RawMessage   `json:"data"`
	Errors       []json.RawMessage `json:"errors"`
	Pagination   *apiPagination    `json:"pagination"`
	DeletedCount int64             `json:"deletedCount"`
	Code         string            `json:"code"`
}

func newAPIStack(t *testing.T) apiStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := content.NewRegistry()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"), registry, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Hasher:     auth.NewPasswordHasher(4),
	})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	store, err := content.NewStore(content.StoreConfig{
		Database:   db,
		Registry:   registry,
		IDProvider: idProvider,
		Creators:   userService,
	})
	if err != nil {
		t.Fatalf("failed to construct content store: %v", err)
	}
	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:     db,
		IDProvider:   idProvider,
		UniqueVoters: true,
	})
	if err != nil {
		t.Fatalf("failed to construct poll service: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-signing-secret"),
		Issuer:        "chapterhub-auth",
		Audience:      "chapterhub-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	changes := relay.New(relay.Config{BufferSize: 8})
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      tokenIssuer,
		Users:             userService,
		Content:           store,
		Polls:             pollService,
		Relay:             changes,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return apiStack{server: server, users: userService, relay: changes}
}

func (s apiStack) call(t *testing.T, method, path, token string, payload any) (int, apiResponse) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
	}
	request, err := http.NewRequest(method, s.server.URL+path, &body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode %s %s response: %v", method, path, err)
	}
	return response.StatusCode, decoded
}

func (s apiStack) login(t *testing.T, email, password string) string {
	t.Helper()
	status, response := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login failed with %d: %s", status, response.Message)
	}
	var session sessionPayload
	if err := json.Unmarshal(response.Data, &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	return session.Token
}

func (s apiStack) adminToken(t *testing.T) string {
	t.Helper()
	if _, _, err := s.users.EnsureAdmin(context.Background(), users.SignupInput{
		Name:     "Chapter Admin",
		Email:    "admin@example.org",
		Password: "admin-password",
	}); err != nil {
		t.Fatalf("failed to create admin: %v", err)
	}
	return s.login(t, "admin@example.org", "admin-password")
}

func TestSignupLoginAndRoleGate(t *testing.T) {
	stack := newAPIStack(t)

	status, response := stack.call(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Member", "email": "Member@Example.org", "password": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected signup 201, got %d (%s)", status, response.Message)
	}

	status, _ = stack.call(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Again", "email": "member@example.org", "password": "secret1",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected duplicate signup 409, got %d", status)
	}

	status, response = stack.call(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Short", "email": "short@example.org", "password": "123",
	})
	if status != http.StatusBadRequest || len(response.Errors) != 1 {
		t.Fatalf("expected signup validation failure, got %d %v", status, response.Errors)
	}

	token := stack.login(t, "member@example.org", "secret1")
	status, response = stack.call(t, http.MethodGet, "/api/auth/me", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected me 200, got %d", status)
	}
	var me userPayload
	if err := json.Unmarshal(response.Data, &me); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	if me.Role != auth.RoleMember || me.Email != "member@example.org" {
		t.Fatalf("unexpected user %+v", me)
	}

	status, _ = stack.call(t, http.MethodGet, "/api/admin/stats", token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected member to be forbidden, got %d", status)
	}

	status, _ = stack.call(t, http.MethodPost, "/api/auth/logout", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", status)
	}
}

func TestAdminCrudPublishesChanges(t *testing.T) {
	stack := newAPIStack(t)
	token := stack.adminToken(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, cleanup := stack.relay.Subscribe(ctx, "events")
	defer cleanup()

	status, response := stack.call(t, http.MethodPost, "/api/admin/add/events", token, map[string]any{
		"title":       "Go Study Group",
		"description": "Weekly reading group for Effective Go",
		"date":        "2026-11-05T18:00:00Z",
		"category":    "weekly-cadence",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected create 201, got %d (%s)", status, response.Message)
	}
	var created map[string]any
	if err := json.Unmarshal(response.Data, &created); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	eventID, _ := created["_id"].(string)
	creator, _ := created["createdBy"].(map[string]any)
	if eventID == "" || creator["email"] != "admin@example.org" {
		t.Fatalf("unexpected created record %v", created)
	}

	select {
	case event := <-events:
		if event.Action != relay.ActionCreate || event.Collection != "events" {
			t.Fatalf("unexpected change event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("expected create change event")
	}

	status, response = stack.call(t, http.MethodPost, "/api/admin/add/events", token, map[string]any{"title": "Missing fields"})
	if status != http.StatusBadRequest || len(response.Errors) == 0 {
		t.Fatalf("expected validation failure, got %d", status)
	}

	status, _ = stack.call(t, http.MethodPut, "/api/admin/update/events/"+eventID, token, map[string]any{"status": "ongoing"})
	if status != http.StatusOK {
		t.Fatalf("expected update 200, got %d", status)
	}

	status, response = stack.call(t, http.MethodGet, "/api/admin/list/events?limit=10&sort=-date", token, nil)
	if status != http.StatusOK || response.Pagination == nil || response.Pagination.Total != 1 {
		t.Fatalf("unexpected list response %d %+v", status, response.Pagination)
	}

	status, _ = stack.call(t, http.MethodDelete, "/api/admin/delete/events/"+eventID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected delete 200, got %d", status)
	}
	status, _ = stack.call(t, http.MethodGet, "/api/admin/get/events/"+eventID, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}

	actions := []relay.Action{}
	deadline := time.After(time.Second)
	for len(actions) < 2 {
		select {
		case event := <-events:
			actions = append(actions, event.Action)
		case <-deadline:
			t.Fatalf("expected update and delete events, got %v", actions)
		}
	}
	if actions[0] != relay.ActionUpdate || actions[1] != relay.ActionDelete {
		t.Fatalf("unexpected action order %v", actions)
	}
}

func TestBulkDeleteReportsDeletedCount(t *testing.T) {
	stack := newAPIStack(t)
	token := stack.adminToken(t)

	var noticeIDs []string
	for _, title := range []string{"A", "C"} {
		status, response := stack.call(t, http.MethodPost, "/api/admin/add/notices", token, map[string]any{"title": title, "content": "body"})
		if status != http.StatusCreated {
			t.Fatalf("expected create 201, got %d", status)
		}
		var record map[string]any
		_ = json.Unmarshal(response.Data, &record)
		noticeIDs = append(noticeIDs, record["_id"].(string))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, cleanup := stack.relay.Subscribe(ctx, "notices")
	defer cleanup()

	status, response := stack.call(t, http.MethodPost, "/api/admin/bulk-delete/notices", token, map[string]any{
		"ids": []string{noticeIDs[0], "missing-b", " " + noticeIDs[1] + " ", noticeIDs[0]},
	})
	if status != http.StatusOK || response.DeletedCount != 2 {
		t.Fatalf("expected 2 deletions, got %d %d", status, response.DeletedCount)
	}

	select {
	case event := <-events:
		payload, ok := event.Data.(relay.BulkDeletePayload)
		if !ok || event.Action != relay.ActionBulkDelete {
			t.Fatalf("unexpected change event %+v", event)
		}
		if payload.Count != 2 || len(payload.IDs) != 2 {
			t.Fatalf("expected the two removed ids, got %+v", payload)
		}
		for _, id := range payload.IDs {
			if id != noticeIDs[0] && id != noticeIDs[1] {
				t.Fatalf("unexpected id %q in bulk delete event", id)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("expected bulk delete change event")
	}

	status, response = stack.call(t, http.MethodPost, "/api/admin/bulk-delete/notices", token, map[string]any{"ids": []string{"missing-b"}})
	if status != http.StatusOK || response.DeletedCount != 0 {
		t.Fatalf("expected zero deletions, got %d %d", status, response.DeletedCount)
	}
	select {
	case event := <-events:
		t.Fatalf("expected no change event when nothing was removed, got %+v", event)
	case <-time.After(100 * time.Millisecond):
	}

	status, _ = stack.call(t, http.MethodPost, "/api/admin/bulk-delete/notices", token, map[string]any{"ids": []string{}})
	if status != http.StatusBadRequest {
		t.Fatalf("expected empty ids to be rejected, got %d", status)
	}

	status, response = stack.call(t, http.MethodGet, "/api/admin/stats", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected stats 200, got %d", status)
	}
	var stats content.Stats
	_ = json.Unmarshal(response.Data, &stats)
	if stats.Total != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestPublicVotingFlow(t *testing.T) {
	stack := newAPIStack(t)
	token := stack.adminToken(t)

	status, response := stack.call(t, http.MethodPost, "/api/admin/add/polls", token, map[string]any{
		"question": "Which track next quarter?",
		"options":  []map[string]any{{"text": "Cloud"}, {"text": "Security"}},
	})
	if status != http.StatusCreated {
		t.Fatalf("expected poll create 201, got %d (%s)", status, response.Message)
	}
	var poll content.Poll
	if err := json.Unmarshal(response.Data, &poll); err != nil {
		t.Fatalf("failed to decode poll: %v", err)
	}

	status, response = stack.call(t, http.MethodGet, "/api/polls/active", "", nil)
	var active []content.Poll
	_ = json.Unmarshal(response.Data, &active)
	if status != http.StatusOK || len(active) != 1 || active[0].ID != poll.ID {
		t.Fatalf("expected the poll to be active, got %d %v", status, active)
	}

	path := "/api/polls/" + poll.ID + "/vote"
	status, response = stack.call(t, http.MethodPost, path, "", map[string]any{"optionIndex": 1, "voterId": "device-1"})
	if status != http.StatusOK {
		t.Fatalf("expected vote 200, got %d (%s)", status, response.Message)
	}
	var voted content.Poll
	_ = json.Unmarshal(response.Data, &voted)
	if voted.TotalVotes != 1 || voted.Options[1].Votes != 1 {
		t.Fatalf("unexpected counters after vote %+v", voted)
	}

	status, _ = stack.call(t, http.MethodPost, path, "", map[string]any{"optionIndex": 0, "voterId": "device-1"})
	if status != http.StatusConflict {
		t.Fatalf("expected repeat vote 409, got %d", status)
	}
	status, _ = stack.call(t, http.MethodPost, path, "", map[string]any{"optionIndex": 5})
	if status != http.StatusBadRequest {
		t.Fatalf("expected invalid option 400, got %d", status)
	}

	status, response = stack.call(t, http.MethodGet, "/api/polls/"+poll.ID+"/voted?voterId=device-1", "", nil)
	var votedPayload votedResponsePayload
	_ = json.Unmarshal(response.Data, &votedPayload)
	if status != http.StatusOK || !votedPayload.Voted {
		t.Fatalf("expected voter to be recorded, got %d %+v", status, votedPayload)
	}

	status, response = stack.call(t, http.MethodGet, "/api/admin/polls/"+poll.ID+"/analytics", token, nil)
	var analytics polls.Analytics
	_ = json.Unmarshal(response.Data, &analytics)
	if status != http.StatusOK || analytics.TotalResponses != 1 || analytics.Options[1].Percentage != 100 {
		t.Fatalf("unexpected analytics %d %+v", status, analytics)
	}

	status, _ = stack.call(t, http.MethodPut, "/api/admin/update/polls/"+poll.ID, token, map[string]any{"status": "inactive"})
	if status != http.StatusOK {
		t.Fatalf("expected poll update 200, got %d", status)
	}
	status, _ = stack.call(t, http.MethodPost, path, "", map[string]any{"optionIndex": 0, "voterId": "device-2"})
	if status != http.StatusConflict {
		t.Fatalf("expected vote on inactive poll 409, got %d", status)
	}
}

func TestRealtimeStreamEmitsDataUpdateEvents(t *testing.T) {
	stack := newAPIStack(t)
	token := stack.adminToken(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, stack.server.URL+"/api/realtime/stream?collections=notices", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 16)
	go func() {
		reader := bufio.NewReader(streamResp.Body)
		for {
			line, err := reader.ReadString('\n')
			lines <- readResult{line: strings.TrimSpace(line), err: err}
			if err != nil {
				close(lines)
				return
			}
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case res, ok := <-lines:
				if !ok || res.err != nil {
					t.Fatalf("stream ended before %q", prefix)
				}
				if strings.HasPrefix(res.line, prefix) {
					return res.line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event:heartbeat")

	status, _ := stack.call(t, http.MethodPost, "/api/admin/add/events", token, map[string]any{
		"title": "Ignored", "description": "d", "date": "2026-11-05T18:00:00Z", "category": "workshop",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected create 201, got %d", status)
	}
	status, _ = stack.call(t, http.MethodPost, "/api/admin/add/notices", token, map[string]any{"title": "Room change", "content": "Room 12"})
	if status != http.StatusCreated {
		t.Fatalf("expected create 201, got %d", status)
	}

	waitFor("event:data-update")
	dataLine := waitFor("data:")
	var event struct {
		Collection string         `json:"collection"`
		Action     string         `json:"action"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data:")), &event); err != nil {
		t.Fatalf("failed to decode event payload %q: %v", dataLine, err)
	}
	if event.Collection != "notices" || event.Action != "create" || event.Data["title"] != "Room change" {
		t.Fatalf("unexpected stream event %+v", event)
	}

	rejected, err := http.Get(stack.server.URL + "/api/realtime/stream?access_token=not-a-token")
	if err != nil {
		t.Fatalf("failed to call stream: %v", err)
	}
	_ = rejected.Body.Close()
	if rejected.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected invalid access token to be rejected, got %d", rejected.StatusCode)
	}
}
