package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/apperr"
	"budget/internal/core"
	applog "budget/internal/log"
)

type fakeCompleter struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Output: io.Discard})
}

func TestChooseCategory(t *testing.T) {
	fake := &fakeCompleter{answer: "  cafe\n"}
	c := NewClient(fake, quietLogger())

	code, err := c.ChooseCategory(context.Background(), "Blue Bottle")
	require.NoError(t, err)
	assert.Equal(t, core.Cafe, code)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "Blue Bottle")
	assert.Contains(t, fake.prompts[0], "CONVENIENCE_STORE")
}

func TestCall_EmptyAnswer(t *testing.T) {
	c := NewClient(&fakeCompleter{answer: "   "}, quietLogger())
	_, err := c.ChooseCategory(context.Background(), "x")
	assert.Equal(t, apperr.APIWrongAnswer, apperr.CodeOf(err))
}

func TestCall_RateLimitWaitExceeded(t *testing.T) {
	c := NewClient(&fakeCompleter{answer: "ETC"}, quietLogger())
	c.maxWait = 10 * time.Millisecond

	for i := 0; i < callsPerWindow; i++ {
		_, err := c.ChooseCategory(context.Background(), "x")
		require.NoError(t, err)
	}
	_, err := c.ChooseCategory(context.Background(), "x")
	assert.Equal(t, apperr.APIRateLimited, apperr.CodeOf(err))
}

func TestRecommendSaving(t *testing.T) {
	fake := &fakeCompleter{answer: "```json\n{\"Cafe\":\"Brew at home\"}\n```"}
	c := NewClient(fake, quietLogger())

	summary := core.Summarize([]core.CategorySum{
		{CategoryID: 1, CategoryName: "Cafe", Sum: decimal.NewFromInt(30000), Count: 6},
	})
	out, err := c.RecommendSaving(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, `{"Cafe":"Brew at home"}`, out)
	assert.Contains(t, fake.prompts[0], "Total spending: 30,000 KRW")
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":"b"}`, `{"a":"b"}`},
		{"```json\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"```\n{}\n```", `{}`},
		{"```json {} ```", `{}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFence(tt.in))
	}
}

func TestOpenAICompleter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"MART"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAICompleter(Config{APIKey: "test", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "MART", out)
	assert.Equal(t, DefaultModel, body["model"])
	assert.Equal(t, float64(0), body["temperature"])
}

func TestOpenAICompleter_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Code
	}{
		{http.StatusBadRequest, apperr.APIClientError},
		{http.StatusInternalServerError, apperr.APIServerError},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"x"}}`)
		}))
		c := NewOpenAICompleter(Config{APIKey: "test", BaseURL: srv.URL, MaxRetries: -1})
		_, err := c.Complete(context.Background(), "hello")
		srv.Close()
		assert.Equal(t, tt.want, apperr.CodeOf(err), "status %d", tt.status)
	}
}
