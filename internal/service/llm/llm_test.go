package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashita-ai/kensaku/internal/testutil"
)

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if len(req.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(req.Messages))
		}

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: chatMessage{Role: "assistant", Content: "a hypothetical passage"},
		})
	}))
	defer server.Close()

	p := NewOllamaChat(server.URL, "test-model")
	out, err := p.Complete(context.Background(), "system", "user", Options{Temperature: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if out != "a hypothetical passage" {
		t.Errorf("unexpected completion: %q", out)
	}
}

func TestOllamaChatErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		p := NewOllamaChat(server.URL, "missing-model")
		if _, err := p.Complete(context.Background(), "", "hi", Options{}); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("error field in body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaChatResponse{Error: "out of memory"})
		}))
		defer server.Close()

		p := NewOllamaChat(server.URL, "test-model")
		if _, err := p.Complete(context.Background(), "", "hi", Options{}); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestOpenAIChatMessageShape(t *testing.T) {
	// System prompt omitted when empty.
	p := NewOpenAIChat("sk-test", "gpt-4o-mini")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 1 {
			t.Errorf("expected 1 message, got %d", len(req.Messages))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer server.Close()

	// Point the client at the test server by rewriting the transport target.
	p.httpClient.Transport = rewriteTransport{target: server.URL}

	out, err := p.Complete(context.Background(), "", "just the user prompt", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("unexpected completion: %q", out)
	}
}

type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	redirected, err := http.NewRequestWithContext(req.Context(), req.Method, rt.target+req.URL.Path, req.Body)
	if err != nil {
		return nil, err
	}
	redirected.Header = req.Header
	return http.DefaultTransport.RoundTrip(redirected)
}

func TestNewAuto(t *testing.T) {
	logger := testutil.TestLogger()

	t.Run("explicit noop", func(t *testing.T) {
		p := NewAuto(AutoConfig{Provider: "noop"}, logger)
		if _, ok := p.(NoopProvider); !ok {
			t.Fatalf("expected NoopProvider, got %T", p)
		}
	})

	t.Run("auto prefers ollama", func(t *testing.T) {
		p := NewAuto(AutoConfig{
			Provider:     "auto",
			OpenAIAPIKey: "sk-test",
			OllamaURL:    "http://localhost:11434",
			OllamaModel:  "llama3.1",
		}, logger)
		if _, ok := p.(*OllamaChat); !ok {
			t.Fatalf("expected OllamaChat, got %T", p)
		}
	})

	t.Run("auto falls back to openai", func(t *testing.T) {
		p := NewAuto(AutoConfig{Provider: "auto", OpenAIAPIKey: "sk-test", Model: "gpt-4o-mini"}, logger)
		if _, ok := p.(*OpenAIChat); !ok {
			t.Fatalf("expected OpenAIChat, got %T", p)
		}
	})

	t.Run("auto falls back to noop", func(t *testing.T) {
		p := NewAuto(AutoConfig{Provider: "auto"}, logger)
		if _, ok := p.(NoopProvider); !ok {
			t.Fatalf("expected NoopProvider, got %T", p)
		}
	})
}
