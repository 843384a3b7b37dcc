// Package llm asks a chat model to categorize merchants and suggest savings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"budget/internal/apperr"
	"budget/internal/core"
	applog "budget/internal/log"
)

const (
	DefaultModel = "gpt-4o-mini"

	callsPerWindow = 5
	window         = 3 * time.Second
	maxWait        = 10 * time.Second
)

// Completer sends one user prompt and returns the first choice's text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAICompleter calls the chat completions API at temperature 0.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int // 0 means 3, negative disables SDK retries
	HTTPClient *http.Client
}

func NewOpenAICompleter(cfg Config) *OpenAICompleter {
	retries := cfg.MaxRetries
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = 3
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(retries),
		option.WithRequestTimeout(60 * time.Second),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(0),
	})
	if err != nil {
		var apiErr *openai.Error
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
			return "", apperr.Wrap(apperr.APIRateLimited, err)
		case errors.As(err, &apiErr) && apiErr.StatusCode >= 500:
			return "", apperr.Wrap(apperr.APIServerError, err)
		case errors.As(err, &apiErr):
			return "", apperr.Wrap(apperr.APIClientError, err)
		case errors.Is(err, context.DeadlineExceeded):
			return "", apperr.Wrap(apperr.APITimeout, err)
		}
		return "", apperr.Wrap(apperr.APIServerError, err)
	}
	if len(completion.Choices) == 0 {
		return "", apperr.New(apperr.APIWrongAnswer)
	}
	return completion.Choices[0].Message.Content, nil
}

// Client throttles calls to a Completer and builds the prompts.
type Client struct {
	completer Completer
	limiter   *rate.Limiter
	maxWait   time.Duration
	logger    *applog.Logger
}

// NewClient allows five calls every three seconds and waits at most ten
// seconds for a slot.
func NewClient(completer Completer, logger *applog.Logger) *Client {
	return &Client{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Every(window/callsPerWindow), callsPerWindow),
		maxWait:   maxWait,
		logger:    logger.WithComponent(applog.ComponentLLM),
	}
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	err := c.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.Wrap(apperr.APIRateLimited, err)
	}

	start := time.Now()
	content, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		c.logger.WarnContext(ctx, "LLM call failed", applog.FieldError, err.Error())
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", apperr.New(apperr.APIWrongAnswer)
	}
	c.logger.DebugContext(ctx, "LLM call completed", applog.FieldDuration, time.Since(start).Milliseconds())
	return content, nil
}

// ChooseCategory asks which category a merchant belongs to. The answer is
// upper-cased but not validated.
func (c *Client) ChooseCategory(ctx context.Context, merchantName string) (core.CategoryCode, error) {
	codes := core.CategoryCodes()
	names := make([]string, 0, len(codes)-1)
	for _, code := range codes {
		if code != core.Etc {
			names = append(names, string(code))
		}
	}
	prompt := fmt.Sprintf(
		"Classify the merchant below into exactly one of these categories: %s. "+
			"If none fits, answer ETC. Answer with the category code only.\nMerchant name: %s",
		strings.Join(names, ", "), merchantName)

	answer, err := c.call(ctx, prompt)
	if err != nil {
		return "", err
	}
	return core.CategoryCode(strings.ToUpper(strings.TrimSpace(answer))), nil
}

// RecommendSaving asks for one saving tip per category of summary and
// returns the raw JSON object text with any markdown fence removed.
func (c *Client) RecommendSaving(ctx context.Context, summary core.Summary) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Total spending: %s KRW\n", core.FormatAmount(summary.Total))
	for _, share := range summary.Categories {
		fmt.Fprintf(&b, "%s - %s KRW : %s%%\n", share.CategoryName, core.FormatAmount(share.Sum), share.Ratio.StringFixed(2))
	}
	b.WriteString("Based on these statistics, recommend one way to save money for each category. ")
	b.WriteString(`Answer with a JSON object mapping category name to recommendation, e.g. {"Transportation":"Take the bus instead of a taxi","Convenience Store":"Buy fewer snacks"}. `)
	b.WriteString("Return plain JSON only, without markdown code blocks.")

	answer, err := c.call(ctx, b.String())
	if err != nil {
		return "", err
	}
	return StripCodeFence(answer), nil
}

// StripCodeFence removes a surrounding ``` or ```json block.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
