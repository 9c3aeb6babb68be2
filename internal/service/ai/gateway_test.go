package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linqiu/chatdesk/backend/internal/config"
	"github.com/linqiu/chatdesk/backend/internal/model/chat"
	"github.com/linqiu/chatdesk/backend/internal/service/ai"
)

func TestDemoReplyEchoesLastUserTurn(t *testing.T) {
	client := ai.NewClient(config.AIConfig{Timeout: 5})

	history := []chat.Turn{
		{Role: chat.RoleUser, Content: "Hello"},
	}
	reply, err := client.GetReply(context.Background(), history)
	if err != nil {
		t.Fatalf("GetReply err: %v", err)
	}
	if reply != "(demo reply) you said: Hello" {
		t.Fatalf("unexpected demo reply: %q", reply)
	}

	history = append(history,
		chat.Turn{Role: chat.RoleAssistant, Content: "(demo reply) you said: Hello"},
		chat.Turn{Role: chat.RoleUser, Content: "second question"},
	)
	reply, err = client.GetReply(context.Background(), history)
	if err != nil {
		t.Fatalf("GetReply err: %v", err)
	}
	if !strings.Contains(reply, "second question") {
		t.Fatalf("demo reply should echo the most recent user turn: %q", reply)
	}
}

func TestRemoteCompletion(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "deepseek-chat",
		Timeout: 5,
	})

	history := []chat.Turn{{Role: chat.RoleUser, Content: "Hello"}}
	reply, err := client.GetReply(context.Background(), history)
	if err != nil {
		t.Fatalf("GetReply err: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected Content-Type: %q", gotContentType)
	}
	if gotBody["model"] != "deepseek-chat" {
		t.Fatalf("unexpected model: %v", gotBody["model"])
	}
	if stream, ok := gotBody["stream"].(bool); !ok || stream {
		t.Fatalf("stream must be false, got %v", gotBody["stream"])
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected full history in request, got %v", gotBody["messages"])
	}
}

func TestRemoteCompletionNoAuthHeaderWithoutKey(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{BaseURL: srv.URL, Model: "deepseek-chat", Timeout: 5})
	if _, err := client.GetReply(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "x"}}); err != nil {
		t.Fatalf("GetReply err: %v", err)
	}
	if sawAuth {
		t.Fatal("Authorization header must be absent when no key is configured")
	}
}

func TestRemoteCompletionNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{BaseURL: srv.URL, Model: "deepseek-chat", Timeout: 5})
	reply, err := client.GetReply(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "x"}})
	if !errors.Is(err, ai.ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if reply != "" {
		t.Fatalf("failed call must not produce a reply, got %q", reply)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error should carry the response body: %v", err)
	}
}

func TestRemoteCompletionUnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{BaseURL: srv.URL, Model: "deepseek-chat", Timeout: 5})
	reply, err := client.GetReply(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("unexpected shape must not fail the turn: %v", err)
	}
	if !strings.Contains(reply, `"cmpl-1"`) {
		t.Fatalf("diagnostic reply should embed the raw response: %q", reply)
	}
	if !strings.Contains(reply, "extract failed") {
		t.Fatalf("diagnostic reply should name the extraction failure: %q", reply)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := ai.NewClient(config.AIConfig{BaseURL: srv.URL, Model: "deepseek-chat", Timeout: 1})
	if _, err := client.GetReply(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "x"}}); !errors.Is(err, ai.ErrGateway) {
		t.Fatalf("expected ErrGateway on transport failure, got %v", err)
	}
}
