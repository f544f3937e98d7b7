// Package ranking wraps an OpenAI-compatible chat completion endpoint as the
// pipeline's relevance oracle.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "chatcurator/pkg/logx"
)

const defaultTimeout = 45 * time.Second

type Config struct {
	APIKey  string
	BaseURL string // empty = api.openai.com
	Model   string // default gpt-4o-mini
	Timeout time.Duration
}

// Client ranks candidates with a single chat completion per cycle.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	return &Client{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
		log:     log,
	}
}

func (c *Client) Rank(ctx context.Context, candidates []Candidate, profile string, topK int) ([]Verdict, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(rctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(profile, topK)},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		// Low temperature: scoring should be stable across retries.
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choice list", ErrContract)
	}

	verdicts, err := parseVerdicts(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if err := validateVerdicts(verdicts, candidates, topK); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func systemPrompt(profile string, topK int) string {
	var b strings.Builder
	b.WriteString("You curate group chat messages for a single reader.\n\n")
	b.WriteString("## Interest profile\n")
	b.WriteString(strings.TrimSpace(profile))
	b.WriteString("\n\n## Task\n")
	fmt.Fprintf(&b, "The user message is a JSON array of candidate messages. Score every candidate's relevance to the profile and pick the %d most relevant.\n\n", topK)
	b.WriteString("## Output\n")
	b.WriteString("Reply with ONLY a JSON array, no prose, one object per candidate:\n")
	b.WriteString(`[{"id": "...", "include": true, "relevance": 0.87, "category": "...", "reason": "..."}]` + "\n\n")
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Exactly %d objects have include=true; all others have include=false.\n", topK)
	b.WriteString("- Every candidate id appears exactly once.\n")
	b.WriteString("- relevance is a number in [0,1]. category is a short topic label. reason is one sentence.\n")
	return b.String()
}

// parseVerdicts decodes the model reply, tolerating a markdown code fence
// around the JSON (models add one even when told not to).
func parseVerdicts(raw string) ([]Verdict, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Some models wrap the array in an envelope object; accept either shape.
	if strings.HasPrefix(s, "{") {
		var env struct {
			Items []Verdict `json:"items"`
		}
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("%w: parse response: %v", ErrContract, err)
		}
		return env.Items, nil
	}
	var out []Verdict
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrContract, err)
	}
	return out, nil
}

// validateVerdicts enforces the ranking contract: every candidate id exactly
// once, exactly topK includes, relevance within [0,1].
func validateVerdicts(verdicts []Verdict, candidates []Candidate, topK int) error {
	if len(verdicts) != len(candidates) {
		return fmt.Errorf("%w: got %d verdicts for %d candidates", ErrContract, len(verdicts), len(candidates))
	}

	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[c.ID] = false
	}

	includes := 0
	for i := range verdicts {
		v := &verdicts[i]
		seen, ok := want[v.ID]
		if !ok {
			return fmt.Errorf("%w: unknown id %q", ErrContract, v.ID)
		}
		if seen {
			return fmt.Errorf("%w: duplicate id %q", ErrContract, v.ID)
		}
		want[v.ID] = true
		if v.Include {
			includes++
		}
		if v.Relevance < 0 {
			v.Relevance = 0
		}
		if v.Relevance > 1 {
			v.Relevance = 1
		}
	}
	if includes != topK {
		return fmt.Errorf("%w: %d marked relevant, want exactly %d", ErrContract, includes, topK)
	}
	return nil
}
