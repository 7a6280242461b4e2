package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/doppelhq/doppel/internal/chat"
	"github.com/doppelhq/doppel/internal/config"
	"github.com/doppelhq/doppel/internal/embed"
	"github.com/doppelhq/doppel/internal/llm"
	"github.com/doppelhq/doppel/internal/memory"
	"github.com/doppelhq/doppel/internal/store"
	"github.com/doppelhq/doppel/internal/task"
)

func testServer(t *testing.T) (*Server, *memory.Manager) {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	manager := memory.NewManager(db, embed.NewMock())
	client := &llm.MockClient{Response: &llm.Response{Content: "hello from the twin"}}
	tasks := task.New(1, 16)
	t.Cleanup(tasks.Close)
	pipeline := chat.New(db, manager, client, embed.NewMock(), nil, tasks, config.PersonaConfig{})

	return New(db, manager, pipeline, "test"), manager
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["db"] != true {
		t.Errorf("health = %v", resp)
	}
}

func TestCreateMemory(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/memories",
		`{"content":"I love jazz music","category":"preference","importance":0.8}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var mem memory.Memory
	if err := json.Unmarshal(w.Body.Bytes(), &mem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mem.ID == "" || mem.Importance != 0.8 {
		t.Errorf("memory = %+v", mem)
	}
	if mem.OwnerID != "default" {
		t.Errorf("owner = %q, want default", mem.OwnerID)
	}
	if mem.Source != "manual" {
		t.Errorf("source = %q, want manual fallback", mem.Source)
	}
}

func TestCreateMemoryRejectsBadInput(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/memories", `{"content":"x","category":"opinion"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad category status = %d", w.Code)
	}

	w = doJSON(t, srv, "POST", "/api/memories", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", w.Code)
	}
}

func TestSearchMemories(t *testing.T) {
	srv, manager := testServer(t)

	if _, err := manager.Create(context.Background(), memory.CreateMemory{
		OwnerID: "default", Content: "I love jazz music", Category: "preference",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := doJSON(t, srv, "GET", "/api/memories/search?q=what+music+do+you+like&minSimilarity=0.3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Ranked  bool `json:"ranked"`
		Count   int  `json:"count"`
		Results []struct {
			Content    string  `json:"content"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ranked || resp.Count != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Results[0].Similarity < 0.3 {
		t.Errorf("similarity = %f", resp.Results[0].Similarity)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "GET", "/api/memories/search", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRecentMemories(t *testing.T) {
	srv, manager := testServer(t)

	for _, content := range []string{"one", "two"} {
		if _, err := manager.Create(context.Background(), memory.CreateMemory{
			OwnerID: "default", Content: content, Category: "fact",
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	w := doJSON(t, srv, "GET", "/api/memories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestDeleteMemory(t *testing.T) {
	srv, manager := testServer(t)

	rec, err := manager.Create(context.Background(), memory.CreateMemory{
		OwnerID: "default", Content: "ephemeral", Category: "fact",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := doJSON(t, srv, "DELETE", "/api/memories/"+rec.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doJSON(t, srv, "DELETE", "/api/memories/"+rec.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestDeleteMemoryOwnerScoped(t *testing.T) {
	srv, manager := testServer(t)

	rec, err := manager.Create(context.Background(), memory.CreateMemory{
		OwnerID: "alice", Content: "hidden", Category: "fact",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Request runs as the default owner, so alice's memory looks absent.
	w := doJSON(t, srv, "DELETE", "/api/memories/"+rec.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/chat", `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Reply          string `json:"reply"`
		ConversationID string `json:"conversationId"`
		MemoriesUsed   int    `json:"memoriesUsed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "hello from the twin" || resp.ConversationID == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/chat", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/chat", `{"message":"hi","conversationId":"no-such"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChatWithoutPipeline(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	srv := New(db, memory.NewManager(db, nil), nil, "test")

	w := doJSON(t, srv, "POST", "/api/chat", `{"message":"hi"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestInsightsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "GET", "/api/insights", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, manager := testServer(t)

	if _, err := manager.Create(context.Background(), memory.CreateMemory{
		OwnerID: "default", Content: "a fact", Category: "fact", Source: "manual",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := doJSON(t, srv, "GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Memories struct {
			Total    int `json:"total"`
			Embedded int `json:"embedded"`
		} `json:"memories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Memories.Total != 1 || resp.Memories.Embedded != 1 {
		t.Errorf("stats = %+v", resp)
	}
}
