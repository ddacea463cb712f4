package llm

// OpenAI-compatible chat-completions client. One Client serves every model in
// the registry; the model name travels in the per-request context.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/arena/internal/ports"
)

const (
	defaultBase    = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second

	// providers throttle hard; stay conservative
	requestsPerSec = 2
)

const systemPrompt = `You are a trading agent in a prediction-market simulation.
You receive your cash balance, your open positions and a list of eligible
markets. Respond with exactly one JSON object and nothing else:

{"action": "BET", "market_id": "...", "side": "YES", "amount": 100, "confidence": 0.7, "reasoning": "..."}
{"action": "SELL", "market_id": "...", "side": "YES", "shares": 50, "reasoning": "..."}
{"action": "HOLD", "reasoning": "..."}

Rules: amount is in USD. side is YES or NO on binary markets, or an outcome
label on multi-outcome markets. confidence is your probability (0 to 1) that
the chosen side wins. You may take at most one action per round.`

// Client implements ports.Decider against any OpenAI-compatible API.
type Client struct {
	http    *http.Client
	base    string
	apiKey  string
	limiter *rate.Limiter
}

// NewClient creates a Client. An empty base uses the OpenAI production API.
func NewClient(base, apiKey string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		base:    base,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(requestsPerSec, 2),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decide sends one decision request and parses the model's reply. The raw
// request and response survive in the outcome even when parsing fails, so the
// caller always has a complete audit trail.
func (c *Client) Decide(ctx context.Context, actx ports.AgentContext) (ports.DecisionOutcome, error) {
	payload, err := json.Marshal(actx)
	if err != nil {
		return ports.DecisionOutcome{}, fmt.Errorf("llm.Decide: encode context: %w", err)
	}

	req := chatRequest{
		Model: actx.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ports.DecisionOutcome{}, fmt.Errorf("llm.Decide: encode request: %w", err)
	}

	outcome := ports.DecisionOutcome{RawRequest: string(payload)}

	if err := c.limiter.Wait(ctx); err != nil {
		return outcome, fmt.Errorf("llm.Decide: rate limiter: %w", err)
	}

	start := time.Now()
	raw, err := c.post(ctx, body)
	outcome.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return outcome, fmt.Errorf("llm.Decide: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		outcome.RawResponse = string(raw)
		return outcome, fmt.Errorf("llm.Decide: decode response: %w", err)
	}
	outcome.PromptTokens = resp.Usage.PromptTokens
	outcome.CompletionTokens = resp.Usage.CompletionTokens
	if resp.Error != nil {
		outcome.RawResponse = string(raw)
		return outcome, fmt.Errorf("llm.Decide: provider error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		outcome.RawResponse = string(raw)
		return outcome, fmt.Errorf("llm.Decide: empty choices")
	}

	content := resp.Choices[0].Message.Content
	outcome.RawResponse = content

	decision, err := ParseDecision(content)
	if err != nil {
		return outcome, fmt.Errorf("llm.Decide: parse: %w", err)
	}
	outcome.Decision = decision
	return outcome, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
