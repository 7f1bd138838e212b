// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New("ollama", server.URL)
}

func TestChatSuccess(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"model": "qwen2.5-coder:7b",
			"message": {"role": "assistant", "content": "local answer"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 20,
			"eval_count": 5
		}`))
	})

	resp, err := client.Chat(context.Background(), []model.Message{model.NewUserMessage("hi")}, backend.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "local answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 25 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatServerError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not loaded"}`))
	})

	_, err := client.Chat(context.Background(), nil, backend.Params{})
	var provErr *backend.ProviderError
	if !errors.As(err, &provErr) || provErr.Status != http.StatusInternalServerError {
		t.Errorf("err = %v", err)
	}
	if backend.Classify(err) != backend.KindRetriable {
		t.Error("5xx from local server should classify retriable")
	}
}

func TestStreamNDJSON(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(
			`{"model":"qwen2.5-coder:7b","message":{"role":"assistant","content":"chunk one "},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":"chunk two"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":15,"eval_count":8}` + "\n"))
	})

	var content string
	var final backend.Chunk
	err := client.Stream(context.Background(), []model.Message{model.NewUserMessage("go")}, backend.Params{}, func(chunk backend.Chunk) {
		if chunk.Done {
			final = chunk
			return
		}
		content += chunk.Delta
	})
	if err != nil {
		t.Fatal(err)
	}
	if content != "chunk one chunk two" {
		t.Errorf("content = %q", content)
	}
	if !final.Done || final.Usage == nil || final.Usage.TotalTokens != 23 {
		t.Errorf("final = %+v", final)
	}
}

func TestListModels(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"models": [{"name": "qwen2.5-coder:7b"}, {"name": "llama3:8b"}]}`))
	}).WithContextTokens(8192)

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ContextTokens != 8192 {
		t.Errorf("models = %+v", models)
	}
}

func TestCheckHealthDownServer(t *testing.T) {
	client := New("ollama", "http://127.0.0.1:1") // nothing listens here

	state, err := client.CheckHealth(context.Background())
	if err == nil || state != backend.StateDown {
		t.Errorf("state = %v, err = %v", state, err)
	}
}
