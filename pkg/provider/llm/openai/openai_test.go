package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	"github.com/MrWong99/cluekeeper/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	for _, role := range []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant} {
		t.Run(string(role), func(t *testing.T) {
			msg, err := convertMessage(types.Message{Role: role, Content: "What is the defect rate?"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ok bool
			switch role {
			case types.RoleSystem:
				ok = msg.OfSystem != nil
			case types.RoleUser:
				ok = msg.OfUser != nil
			case types.RoleAssistant:
				ok = msg.OfAssistant != nil
			}
			if !ok {
				t.Errorf("role %q mapped to the wrong union member", role)
			}
		})
	}

	if _, err := convertMessage(types.Message{Role: "tool", Content: "x"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestBuildParams(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleUser, Content: "hi"}}

	tests := []struct {
		name       string
		opts       []Option
		req        llm.CompletionRequest
		wantTemp   float64
		wantTopP   bool
		wantLegacy bool
	}{
		{
			name:     "sampling",
			req:      llm.CompletionRequest{Messages: msgs, MaxTokens: 256, Temperature: 0.7, TopP: 0.9, Sample: true},
			wantTemp: 0.7,
			wantTopP: true,
		},
		{
			name:     "deterministic drops temperature and top_p",
			req:      llm.CompletionRequest{Messages: msgs, MaxTokens: 512, Temperature: 0.1, TopP: 0.9},
			wantTemp: 0,
		},
		{
			name:       "legacy token field",
			opts:       []Option{WithLegacyMaxTokens()},
			req:        llm.CompletionRequest{Messages: msgs, MaxTokens: 256, Temperature: 0.7, Sample: true},
			wantTemp:   0.7,
			wantLegacy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("sk-test", "gpt-4o-mini", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			params, err := p.buildParams(tt.req)
			if err != nil {
				t.Fatalf("buildParams: %v", err)
			}
			if got := params.Temperature.Value; got != tt.wantTemp {
				t.Errorf("temperature = %v, want %v", got, tt.wantTemp)
			}
			if params.TopP.Valid() != tt.wantTopP {
				t.Errorf("top_p set = %v, want %v", params.TopP.Valid(), tt.wantTopP)
			}
			want := int64(tt.req.MaxTokens)
			if tt.wantLegacy {
				if params.MaxTokens.Value != want || params.MaxCompletionTokens.Valid() {
					t.Errorf("legacy mode should set max_tokens only, got %+v / %+v", params.MaxTokens, params.MaxCompletionTokens)
				}
			} else if params.MaxCompletionTokens.Value != want || params.MaxTokens.Valid() {
				t.Errorf("max_completion_tokens = %d, want %d", params.MaxCompletionTokens.Value, want)
			}
		})
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	p, _ := New("sk-test", "gpt-4o-mini")
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete_AgainstCompatibleServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer unused" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "mistral",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "defect_rate: 8"}}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 4, "total_tokens": 44}
		}`))
	}))
	defer srv.Close()

	p, err := New("unused", "mistral", WithBaseURL(srv.URL+"/v1"), WithLegacyMaxTokens())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "You are a factory foreman agent."},
			{Role: types.RoleUser, Content: "What is the defect rate?"},
		},
		MaxTokens:   256,
		Temperature: 0.7,
		TopP:        0.9,
		Sample:      true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "defect_rate: 8" || resp.Usage.TotalTokens != 44 {
		t.Errorf("response = %+v", resp)
	}

	if body["model"] != "mistral" || body["top_p"] != 0.9 || body["max_tokens"] != float64(256) {
		t.Errorf("request body = %v", body)
	}
	if _, ok := body["max_completion_tokens"]; ok {
		t.Error("legacy mode must not send max_completion_tokens")
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v, want 2", body["messages"])
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "model": "m", "choices": []}`))
	}))
	defer srv.Close()

	p, _ := New("unused", "m", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "empty choices") {
		t.Errorf("err = %v, want empty choices", err)
	}
}
