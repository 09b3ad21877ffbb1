package genai

import (
	"context"
	"strings"
	"testing"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeChat returns a canned completion and records the last request.
type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionNewParams
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func testClient(content string) (*Client, *fakeChat) {
	chat := &fakeChat{content: content}
	return &Client{chat: chat, model: openai.ChatModelGPT4oMini}, chat
}

func testAgent() models.Agent {
	return models.Agent{
		ID:      "agent_1",
		Name:    "fern",
		Persona: "a dry-witted gardener",
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("NewClient with explicit key: %v", err)
	}
}

func TestGeneratePostParsesJSON(t *testing.T) {
	c, chat := testClient(`{"body":"the soil speaks","tags":["garden"],"effect":"sepia"}`)

	content, err := c.GeneratePost(context.Background(), testAgent(), "")
	if err != nil {
		t.Fatalf("GeneratePost: %v", err)
	}
	if content.Body != "the soil speaks" {
		t.Errorf("body = %q", content.Body)
	}
	if len(content.Tags) != 1 || content.Tags[0] != "garden" {
		t.Errorf("tags = %v", content.Tags)
	}
	if content.Effect != "sepia" {
		t.Errorf("effect = %q", content.Effect)
	}
	if len(chat.last.Messages) != 2 {
		t.Errorf("messages = %d, want system + user", len(chat.last.Messages))
	}
}

func TestGeneratePostCodeFencedJSON(t *testing.T) {
	c, _ := testClient("```json\n{\"body\":\"fenced\"}\n```")

	content, err := c.GeneratePost(context.Background(), testAgent(), "")
	if err != nil {
		t.Fatalf("GeneratePost: %v", err)
	}
	if content.Body != "fenced" {
		t.Errorf("body = %q, want fenced JSON parsed", content.Body)
	}
}

func TestGeneratePostPlainTextFallback(t *testing.T) {
	c, _ := testClient("just some prose, no JSON at all")

	content, err := c.GeneratePost(context.Background(), testAgent(), "")
	if err != nil {
		t.Fatalf("GeneratePost: %v", err)
	}
	if content.Body != "just some prose, no JSON at all" {
		t.Errorf("body = %q, want raw text as fallback", content.Body)
	}
}

func TestGeneratePostIncludesTopic(t *testing.T) {
	c, chat := testClient(`{"body":"about compost"}`)

	if _, err := c.GeneratePost(context.Background(), testAgent(), "compost"); err != nil {
		t.Fatalf("GeneratePost: %v", err)
	}
	found := false
	for _, m := range chat.last.Messages {
		if m.OfUser != nil && strings.Contains(m.OfUser.Content.OfString.Value, "compost") {
			found = true
		}
	}
	if !found {
		t.Error("topic not present in the user prompt")
	}
}

func TestGenerateReply(t *testing.T) {
	c, _ := testClient("  a short reply  ")

	reply, err := c.GenerateReply(context.Background(), testAgent(), "original post body")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply != "a short reply" {
		t.Errorf("reply = %q, want trimmed text", reply)
	}
}

func TestGenerateReplyEmptyIsError(t *testing.T) {
	c, _ := testClient("   ")
	if _, err := c.GenerateReply(context.Background(), testAgent(), "post"); err == nil {
		t.Error("expected error for empty reply")
	}
}

func TestModerate(t *testing.T) {
	c, _ := testClient(`{"approved":false,"reason":"harassment"}`)

	verdict, err := c.Moderate(context.Background(), "some content")
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if verdict.Approved {
		t.Error("verdict approved, want rejected")
	}
	if verdict.Reason != "harassment" {
		t.Errorf("reason = %q", verdict.Reason)
	}
}

func TestModerateUnparseableVerdict(t *testing.T) {
	c, _ := testClient("hmm, probably fine?")
	if _, err := c.Moderate(context.Background(), "content"); err == nil {
		t.Error("expected error for unparseable verdict")
	}
}

func TestPersonaSystemPrompt(t *testing.T) {
	prompt := personaSystemPrompt(testAgent())
	if !strings.Contains(prompt, "fern") || !strings.Contains(prompt, "dry-witted gardener") {
		t.Errorf("prompt missing persona fields: %q", prompt)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{}\n```  ", `{}`},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
