package google

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/stepgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
)

type fakeGenerator struct {
	resp *genai.GenerateContentResponse
	err  error
	req  request
}

func (f *fakeGenerator) generate(_ context.Context, req request) (*genai.GenerateContentResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Paris"),
				genai.FunctionCall{Name: "lookup", Args: map[string]any{"city": "Paris"}},
			}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 9, CandidatesTokenCount: 2},
	}}
	m := &ChatModel{gen: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hi"},
		{Role: model.RoleUser, Content: "capital of France?"},
	}, []model.ToolSpec{{Name: "lookup", Schema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"city"},
	}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if out.Text != "Paris" || out.InputTokens != 9 || out.OutputTokens != 2 {
		t.Errorf("out = %+v", out)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "lookup" {
		t.Errorf("ToolCalls = %+v", out.ToolCalls)
	}
	if fake.req.system == nil {
		t.Error("system instruction not set")
	}
	if len(fake.req.history) != 2 || fake.req.history[1].Role != "model" {
		t.Errorf("history = %+v", fake.req.history)
	}
	if len(fake.req.parts) != 1 {
		t.Errorf("parts = %+v", fake.req.parts)
	}
	decl := fake.req.tools[0].FunctionDeclarations[0]
	if decl.Parameters.Properties["city"].Type != genai.TypeString || decl.Parameters.Required[0] != "city" {
		t.Errorf("schema not converted: %+v", decl.Parameters)
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("must end with user", func(t *testing.T) {
		m := &ChatModel{gen: &fakeGenerator{}}
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleAssistant, Content: "x"}}, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("safety block", func(t *testing.T) {
		blocked := &genai.BlockedError{Candidate: &genai.Candidate{
			FinishReason:  genai.FinishReasonSafety,
			SafetyRatings: []*genai.SafetyRating{{Category: genai.HarmCategoryHarassment, Blocked: true}},
		}}
		m := &ChatModel{gen: &fakeGenerator{err: blocked}}
		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		var safety *SafetyFilterError
		if !errors.As(err, &safety) {
			t.Fatalf("err = %v, want *SafetyFilterError", err)
		}
		if safety.Category == "" {
			t.Error("category not extracted")
		}
	})
}
