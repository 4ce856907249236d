// Package genai provides GenAI-backed analysis using the OpenAI API.
//
// It hosts everything that touches raw natural language or images: voice
// transcript classification into the closed intent set, medication label
// recognition, and the companion chat persona. The reminder core never
// imports this package; it consumes only the structured results.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const intentSystemPrompt = `You classify what an elderly Chinese-speaking user said to their medication assistant.
Determine the user's intent from the following categories:
- "CONFIRM_TAKEN": the user says they took their medicine.
- "FEELING_BAD": the user says they feel unwell, dizzy, or in pain.
- "QUERY_TIME": the user asks what time it is or when to take medicine.
- "UNKNOWN": anything else.

If the intent is CONFIRM_TAKEN, try to extract which medicine (entity).
If the intent is FEELING_BAD, summarize the symptom in Chinese.

Respond with a single JSON object: {"intent": "...", "entity": "...", "symptom": "..."}. Omit fields that do not apply.`

const labelSystemPrompt = `请分析这张药品图片，提取以下信息：药品名称(name)，建议用法用量(dosage)，注意事项(instructions)。
请只返回一个JSON对象：{"name": "...", "dosage": "...", "instructions": "..."}。`

const companionSystemPrompt = `你是一位贴心的老年人健康助手，名字叫"药小助"。你的语气要亲切、耐心、温暖，像对待自己的长辈一样。回答要简洁易懂，避免使用专业术语。多关心老人的身体和心情。`

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{client: cli, model: cfg.Model}, nil
}

// AnalyzeIntent classifies a raw voice transcript into the structured intent
// contract. Transport errors are returned; an unparsable model reply
// degrades to UNKNOWN, matching the forgiving behavior the voice UI needs.
func (c *Client) AnalyzeIntent(ctx context.Context, transcript string) (models.Intent, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(intentSystemPrompt),
			openai.UserMessage(fmt.Sprintf("User said: %q", transcript)),
		},
	})
	if err != nil {
		return models.Intent{}, fmt.Errorf("intent analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Intent{}, fmt.Errorf("no choices returned")
	}

	var in models.Intent
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &in); err != nil {
		slog.Warn("genai: unparsable intent reply, degrading to UNKNOWN", "error", err)
		return models.Intent{Intent: models.IntentUnknown}, nil
	}
	switch in.Intent {
	case models.IntentConfirmTaken, models.IntentFeelingBad, models.IntentQueryTime:
	default:
		in = models.Intent{Intent: models.IntentUnknown}
	}
	slog.Debug("genai: transcript classified", "intent", in.Intent, "entity", in.Entity)
	return in, nil
}

// LabelInfo is what label recognition extracts from a medication photo.
type LabelInfo struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

// AnalyzeMedicationLabel extracts medication details from a base64-encoded
// JPEG of a pill box or bottle.
func (c *Client) AnalyzeMedicationLabel(ctx context.Context, base64Image string) (LabelInfo, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:image/jpeg;base64," + base64Image,
				}),
				openai.TextContentPart(labelSystemPrompt),
			}),
		},
	})
	if err != nil {
		return LabelInfo{}, fmt.Errorf("label analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LabelInfo{}, fmt.Errorf("no choices returned")
	}

	var info LabelInfo
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &info); err != nil {
		return LabelInfo{}, fmt.Errorf("unparsable label reply: %w", err)
	}
	return info, nil
}

// ChatTurn is one prior exchange in the companion conversation.
type ChatTurn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Chat relays a message to the companion persona, replaying prior turns for
// context.
func (c *Client) Chat(ctx context.Context, history []ChatTurn, message string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(companionSystemPrompt),
	}
	for _, turn := range history {
		if turn.Role == "user" {
			messages = append(messages, openai.UserMessage(turn.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("companion chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
