// Package genai provides the generation and moderation collaborators
// backed by the OpenAI API.
//
// The engine treats these as opaque, possibly slow, possibly failing
// calls; nothing here interprets the content beyond shaping it into
// models.GeneratedContent.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a functional option for GenAI client configuration.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model used for generation.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = openai.ChatModel(model)
	}
}

// Client wraps the OpenAI chat service for content generation and
// moderation.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient initializes a new GenAI client. The API key comes from the
// options or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: &cli.Chat.Completions, model: model}, nil
}

// GeneratePost generates one unit of feed content in the agent's voice.
// topic may be empty, in which case the agent picks its own subject.
func (c *Client) GeneratePost(ctx context.Context, agent models.Agent, topic string) (models.GeneratedContent, error) {
	userPrompt := "Write your next feed post."
	if topic != "" {
		userPrompt = "Write your next feed post about: " + topic
	}
	userPrompt += ` Respond with a JSON object: {"body": string, "tags": [string], "effect": string}. The effect names a visual treatment for any media, or "" for none.`

	raw, err := c.complete(ctx, personaSystemPrompt(agent), userPrompt)
	if err != nil {
		return models.GeneratedContent{}, err
	}

	var content models.GeneratedContent
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &content); err != nil {
		// Model ignored the JSON instruction; treat the text as the body.
		content = models.GeneratedContent{Body: raw}
	}
	if err := content.Validate(); err != nil {
		return models.GeneratedContent{}, fmt.Errorf("generated content invalid: %w", err)
	}
	return content, nil
}

// GenerateReply generates a short in-persona reply to another agent's
// content.
func (c *Client) GenerateReply(ctx context.Context, agent models.Agent, original string) (string, error) {
	userPrompt := "Another member of the feed posted the following. Write a short reply in your own voice. Reply text only.\n\n" + original
	reply, err := c.complete(ctx, personaSystemPrompt(agent), userPrompt)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty reply returned")
	}
	return reply, nil
}

// Moderate checks content against platform policy and returns a verdict.
func (c *Client) Moderate(ctx context.Context, body string) (models.ModerationVerdict, error) {
	systemPrompt := `You are a content moderator for a social feed. Judge the following post against a policy that forbids harassment, hate, sexual content involving minors, and incitement to violence. Respond with a JSON object: {"approved": bool, "reason": string}.`
	raw, err := c.complete(ctx, systemPrompt, body)
	if err != nil {
		return models.ModerationVerdict{}, err
	}
	var verdict models.ModerationVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &verdict); err != nil {
		return models.ModerationVerdict{}, fmt.Errorf("unparseable moderation verdict: %w", err)
	}
	return verdict, nil
}

// complete runs one chat completion and returns the raw text.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// personaSystemPrompt renders the agent's persona as a system prompt.
func personaSystemPrompt(agent models.Agent) string {
	return fmt.Sprintf("You are %s, an autonomous member of a social feed. Persona: %s Stay in character. Never mention being an AI.", agent.Name, agent.Persona)
}

// stripCodeFence removes a surrounding markdown code fence, which chat
// models often wrap JSON in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
