package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newOllamaTestServer(t *testing.T, workers int, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOllamaClient(Config{
		Model:   "qwen2.5:3b",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Workers: workers,
	})
	if err != nil {
		t.Fatalf("NewOllamaClient: %v", err)
	}
	return client
}

func TestOllamaClient_Complete(t *testing.T) {
	client := newOllamaTestServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.System != "compress this" {
			t.Errorf("system message lost: %q", req.System)
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "qwen2.5:3b",
			Response:        `{"facts": "Short version."}`,
			Done:            true,
			PromptEvalCount: 50,
			EvalCount:       10,
		})
	})

	resp, err := client.Complete(context.Background(), Request{
		Prompt:        "long chunk text",
		SystemMessage: "compress this",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"facts": "Short version."}` {
		t.Errorf("content: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 60 {
		t.Errorf("expected 60 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOllamaClient_TokenFallback(t *testing.T) {
	client := newOllamaTestServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		// No eval counts in the response.
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:    "qwen2.5:3b",
			Response: "a reply",
			Done:     true,
		})
	})

	prompt := "0123456789abcdef"
	resp, err := client.Complete(context.Background(), Request{Prompt: prompt})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := (len(prompt) + len("a reply")) / 4
	if resp.Usage.TotalTokens != want {
		t.Errorf("fallback token estimate: got %d, want %d", resp.Usage.TotalTokens, want)
	}
}

func TestOllamaClient_RequiresModel(t *testing.T) {
	client, err := NewOllamaClient(Config{})
	if err != nil {
		t.Fatalf("NewOllamaClient: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Prompt: "q"})
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected generic Error for missing model, got %T: %v", err, err)
	}
}

func TestOllamaClient_APIError(t *testing.T) {
	client := newOllamaTestServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ollamaAPIError{Error: "model not found"})
	})

	_, err := client.Complete(context.Background(), Request{Prompt: "q"})
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected generic Error, got %T: %v", err, err)
	}
}

func TestOllamaClient_Timeout(t *testing.T) {
	client := newOllamaTestServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	_, err := client.Complete(context.Background(), Request{
		Prompt:  "q",
		Timeout: 20 * time.Millisecond,
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestOllamaClient_SerializesGeneration(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex

	client := newOllamaTestServer(t, 1, func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if curr > maxInFlight {
			maxInFlight = curr
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "ok", Done: true})
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Complete(context.Background(), Request{Prompt: "q"}); err != nil {
				t.Errorf("Complete: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("expected generation serialized behind 1 slot, saw %d in flight", maxInFlight)
	}
}
