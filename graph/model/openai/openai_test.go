package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dshills/stepgraph/graph/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type fakeCompleter struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (f *fakeCompleter) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.params = body
	return f.resp, f.err
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeCompleter{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "Paris",
				ToolCalls: []openai.ChatCompletionMessageToolCall{{
					Function: openai.ChatCompletionMessageToolCallFunction{Name: "lookup", Arguments: `{"city":"Paris"}`},
				}},
			},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 3},
	}}
	m := &ChatModel{modelName: "gpt-test", client: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "capital of France?"},
	}, []model.ToolSpec{{Name: "lookup", Description: "city facts", Schema: map[string]interface{}{"type": "object"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if out.Text != "Paris" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.InputTokens != 12 || out.OutputTokens != 3 {
		t.Errorf("usage = %d/%d, want 12/3", out.InputTokens, out.OutputTokens)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Input["city"] != "Paris" {
		t.Errorf("ToolCalls = %+v", out.ToolCalls)
	}
	if len(fake.params.Messages) != 2 {
		t.Errorf("sent %d messages, want 2", len(fake.params.Messages))
	}
	if len(fake.params.Tools) != 1 || fake.params.Tools[0].Function.Name != "lookup" {
		t.Errorf("tools not forwarded: %+v", fake.params.Tools)
	}
	if string(fake.params.Model) != "gpt-test" {
		t.Errorf("model = %q", fake.params.Model)
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("api error wrapped", func(t *testing.T) {
		boom := errors.New("connection reset")
		m := &ChatModel{client: &fakeCompleter{err: boom}}
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped %v", err, boom)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		m := &ChatModel{client: &fakeCompleter{resp: &openai.ChatCompletion{}}}
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fake := &fakeCompleter{}
		m := &ChatModel{client: fake}
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &openai.Error{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.Error{StatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.Error{StatusCode: http.StatusBadRequest}, false},
		{"plain error", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable = %v, want %v", got, tt.want)
			}
		})
	}
}
