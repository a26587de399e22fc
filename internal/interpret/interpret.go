// Package interpret turns an utterance into a tool-call plan.
package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/voxpilot/internal/models"
)

const (
	// UnknownConfirmText is spoken when no rule matches.
	UnknownConfirmText = "您的请求我无法理解，请换个说法试试"
	UnknownMessage     = "抱歉，我无法理解您的请求"

	DefaultCity = "上海"
)

// Interpreter classifies an utterance. Session ids are the caller's concern.
type Interpreter interface {
	Interpret(ctx context.Context, utterance string) (*models.Interpretation, error)
}

// Rule matches when the utterance contains any of Keywords.
type Rule struct {
	Name     string
	Keywords []string
	Plan     func(utterance string) (models.ToolCall, string)
}

// Rules is an ordered keyword interpreter; the first matching rule wins.
type Rules []Rule

// DefaultRules returns the built-in weather and translation rules.
// Named cities are checked before the generic weather keyword so
// "北京天气" resolves to 北京. The browser mock matched 上海 or 天气 first
// and sent every weather request to 上海.
func DefaultRules() Rules {
	return Rules{
		weatherRule("上海"),
		weatherRule("北京"),
		weatherRule("广州"),
		{
			Name:     "weather",
			Keywords: []string{"天气"},
			Plan:     weatherPlan(DefaultCity),
		},
		{
			Name:     "translate",
			Keywords: []string{"翻译"},
			Plan: func(u string) (models.ToolCall, string) {
				text := strings.TrimSpace(strings.Replace(u, "翻译", "", 1))
				return models.ToolCall{
					ToolID:     "translate",
					Parameters: map[string]any{"text": text},
				}, fmt.Sprintf("您想翻译\"%s\"吗？", text)
			},
		},
	}
}

func weatherRule(city string) Rule {
	return Rule{
		Name:     "weather:" + city,
		Keywords: []string{city},
		Plan:     weatherPlan(city),
	}
}

func weatherPlan(city string) func(string) (models.ToolCall, string) {
	return func(string) (models.ToolCall, string) {
		return models.ToolCall{
			ToolID:     "maps_weather",
			Parameters: map[string]any{"city": city},
		}, fmt.Sprintf("您想查询%s的天气吗？", city)
	}
}

// Interpret never fails; an unmatched utterance yields an unknown result.
func (r Rules) Interpret(_ context.Context, utterance string) (*models.Interpretation, error) {
	for _, rule := range r {
		for _, kw := range rule.Keywords {
			if strings.Contains(utterance, kw) {
				call, confirmText := rule.Plan(utterance)
				return &models.Interpretation{
					Type:        models.InterpretationToolCall,
					ConfirmText: confirmText,
					ToolCalls:   []models.ToolCall{call},
				}, nil
			}
		}
	}
	return Unknown(), nil
}

// Unknown is the result for an utterance nothing could classify.
func Unknown() *models.Interpretation {
	return &models.Interpretation{
		Type:        models.InterpretationUnknown,
		ConfirmText: UnknownConfirmText,
		Message:     UnknownMessage,
	}
}

// Fallback tries Primary and falls back to Secondary when it errors.
type Fallback struct {
	Primary   Interpreter
	Secondary Interpreter
	Logger    *slog.Logger
}

func (f Fallback) Interpret(ctx context.Context, utterance string) (*models.Interpretation, error) {
	res, err := f.Primary.Interpret(ctx, utterance)
	if err == nil {
		return res, nil
	}
	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Warn("primary interpreter failed, falling back", "error", err)
	return f.Secondary.Interpret(ctx, utterance)
}
