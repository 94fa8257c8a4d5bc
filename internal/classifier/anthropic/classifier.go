// Package anthropic implements signals.Classifier with a Claude model that
// answers a yes/no relevance question about fetched text.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Defaults applied when the config leaves a field empty.
const (
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMaxTokens = 8
	DefaultMaxChars  = 4000
)

const systemPrompt = `You screen short web snippets for a company monitoring tool.
Answer with exactly one word: YES or NO.`

// Config controls the classifier client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	MaxChars  int
	BaseURL   string
}

// Classifier asks the model whether text describes a real signal.
type Classifier struct {
	client    sdk.Client
	model     string
	maxTokens int64
	maxChars  int
	logger    *zap.Logger
}

// New builds a Classifier. An API key is required.
func New(cfg Config, logger *zap.Logger) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("anthropic: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := &Classifier{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxChars:  cfg.MaxChars,
		logger:    logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.maxChars <= 0 {
		c.maxChars = DefaultMaxChars
	}
	return c, nil
}

// Relevant reports whether text announces a job opening or a hire at company.
func (c *Classifier) Relevant(ctx context.Context, kind signals.DetectionType, company, text string) (bool, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{{
			Text:         systemPrompt,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt(kind, company, c.truncate(text)))),
		},
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return false, eris.Wrap(err, "anthropic: classify")
	}
	answer := firstText(msg)
	c.logger.Debug("classifier answered",
		zap.String("type", string(kind)),
		zap.String("company", company),
		zap.String("answer", answer),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
	)
	return parseAnswer(answer)
}

func (c *Classifier) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= c.maxChars {
		return text
	}
	return string(runes[:c.maxChars])
}

func prompt(kind signals.DetectionType, company, text string) string {
	question := "Does this text announce an open job position at %q?"
	if kind == signals.DetectionHire {
		question = "Does this text announce that a specific person joined %q or was appointed to a role there?"
	}
	return fmt.Sprintf(question, company) + "\n\n<text>\n" + text + "\n</text>"
}

func firstText(msg *sdk.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text)
		}
	}
	return ""
}

func parseAnswer(answer string) (bool, error) {
	word := strings.ToUpper(strings.Trim(answer, " \t\n.!"))
	switch {
	case strings.HasPrefix(word, "YES"):
		return true, nil
	case strings.HasPrefix(word, "NO"):
		return false, nil
	default:
		return false, eris.Errorf("anthropic: unexpected answer %q", answer)
	}
}
