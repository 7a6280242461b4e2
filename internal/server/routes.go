package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/doppelhq/doppel/internal/chat"
	"github.com/doppelhq/doppel/internal/memory"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "chat not available, no generation backend configured"})
		return
	}

	var req struct {
		OwnerID        string `json:"ownerId"`
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message required"}`, http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.HandleTurn(r.Context(), ownerFrom(r, req.OwnerID), req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID    string  `json:"ownerId"`
		Content    string  `json:"content"`
		Summary    string  `json:"summary"`
		Category   string  `json:"category"`
		Source     string  `json:"source"`
		SourceRef  string  `json:"sourceRef"`
		Importance float64 `json:"importance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	mem, err := s.memories.Create(r.Context(), memory.CreateMemory{
		OwnerID:    ownerFrom(r, req.OwnerID),
		Content:    req.Content,
		Summary:    req.Summary,
		Category:   req.Category,
		Source:     req.Source,
		SourceRef:  req.SourceRef,
		Importance: req.Importance,
	})
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(mem)
}

func (s *Server) handleRecentMemories(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	items, err := s.memories.Recent(r.Context(), ownerFrom(r, ""), limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(items),
		"memories": items,
	})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, `{"error":"q parameter required"}`, http.StatusBadRequest)
		return
	}

	opts := memory.SearchOpts{
		Category: r.URL.Query().Get("category"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if m := r.URL.Query().Get("minSimilarity"); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			opts.MinSimilarity = f
		}
	}

	results, err := s.memories.Search(r.Context(), ownerFrom(r, ""), query, opts)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	type resultJSON struct {
		memory.Memory
		Similarity float64 `json:"similarity"`
	}
	out := make([]resultJSON, len(results.Items))
	for i, item := range results.Items {
		out[i] = resultJSON{Memory: item.Memory, Similarity: item.Similarity}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   query,
		"ranked":  results.Ranked,
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	memoryID := chi.URLParam(r, "memoryID")

	err := s.memories.Delete(r.Context(), ownerFrom(r, ""), memoryID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			http.Error(w, `{"error":"memory not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	insights, err := s.db.ListInsights(r.Context(), ownerFrom(r, ""), limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(insights),
		"insights": insights,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r, "")

	memStats, err := s.db.MemoryStatsFor(r.Context(), owner)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	insightStats, err := s.db.InsightStatsFor(r.Context(), owner)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"memories": memStats,
		"insights": insightStats,
	})
}
