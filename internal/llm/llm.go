package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/voxpilot/internal/models"
)

// Client wraps the Anthropic API for intent interpretation.
type Client struct {
	api     *anthropic.Client
	model   anthropic.Model
	catalog []models.Tool
}

// NewClient creates an LLM interpreter that plans against the given tools.
func NewClient(apiKey, model string, catalog []models.Tool) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:     &client,
		model:   anthropic.Model(model),
		catalog: catalog,
	}
}

// buildPrompt constructs the system and user prompts for interpretation.
func buildPrompt(utterance string, catalog []models.Tool) (system string, user string) {
	var sb strings.Builder
	sb.WriteString(`You are the intent parser of a Chinese voice assistant. Given a spoken request and a tool catalog, return ONLY a JSON object with these fields:
- "type": "tool_call" when one catalog tool can serve the request, otherwise "unknown"
- "tool_calls": for "tool_call", an array with exactly one object {"tool_id": <catalog id>, "parameters": {...}} whose parameters satisfy the tool's request_schema
- "confirmText": a short question in Chinese asking the user to confirm the planned action, e.g. "您想查询上海的天气吗？"
- "message": for "unknown", a short apology in Chinese

Rules:
- Only use tool ids from the catalog
- Never invent parameters the request does not imply
- Return valid JSON only, no markdown fencing or explanation

Tool catalog:
`)
	for _, t := range catalog {
		sb.WriteString("- ")
		sb.WriteString(t.ToolID)
		sb.WriteString(" (")
		sb.WriteString(t.Name)
		sb.WriteString("): ")
		sb.WriteString(t.Description)
		if len(t.RequestSchema) > 0 {
			sb.WriteString("\n  request_schema: ")
			sb.Write(t.RequestSchema)
		}
		sb.WriteString("\n")
	}
	system = sb.String()
	user = "Request: " + utterance
	return
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseInterpretation decodes the model output and checks that every
// planned tool exists in the catalog.
func parseInterpretation(text string, catalog []models.Tool) (*models.Interpretation, error) {
	text = stripFence(text)

	var res models.Interpretation
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	switch res.Type {
	case models.InterpretationUnknown:
		res.ToolCalls = nil
		return &res, nil
	case models.InterpretationToolCall:
	default:
		return nil, fmt.Errorf("unexpected interpretation type %q", res.Type)
	}

	if len(res.ToolCalls) == 0 {
		return nil, fmt.Errorf("tool_call interpretation without tool_calls")
	}
	known := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		known[t.ToolID] = true
	}
	for _, tc := range res.ToolCalls {
		if !known[tc.ToolID] {
			return nil, fmt.Errorf("LLM planned unknown tool %q", tc.ToolID)
		}
	}
	if res.ConfirmText == "" {
		return nil, fmt.Errorf("tool_call interpretation without confirmText")
	}
	return &res, nil
}

// Interpret sends the utterance to the LLM and returns its plan.
func (c *Client) Interpret(ctx context.Context, utterance string) (*models.Interpretation, error) {
	systemPrompt, userPrompt := buildPrompt(utterance, c.catalog)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseInterpretation(text, c.catalog)
}
