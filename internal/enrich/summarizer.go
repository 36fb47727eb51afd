package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kaptinlin/jsonrepair"
	"google.golang.org/genai"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
)

// ErrEmptySummary is returned when a backend answered with no usable text
var ErrEmptySummary = errors.New("empty summary")

// SummaryRequest is the input to a summarizer
type SummaryRequest struct {
	Symbol      string
	Company     string
	Text        string
	TargetWords int
}

// Summarizer condenses news text into a short catalyst summary
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
	Name() string
}

// BuildPrompt renders the catalyst prompt shared by every backend
func BuildPrompt(req SummaryRequest) string {
	company := req.Company
	if company == "" {
		company = req.Symbol
	}
	target := req.TargetWords
	if target <= 0 {
		target = 50
	}
	lower := target - 10
	if lower < 1 {
		lower = 1
	}
	return fmt.Sprintf(`Summarize the following news for %s (%s).

News Content:
%s

Instructions:
1. The summary MUST be between %d and %d words long.
2. Focus on the main catalyst or reason for stock movement.
3. Do not include introductory phrases like "The news reports...".
4. Return ONLY the summary text.`, company, req.Symbol, req.Text, lower, target)
}

// CleanSummary strips wrappers that models add around the answer: code fences,
// JSON objects with a summary field, and surrounding quotes.
func CleanSummary(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		if repaired, err := jsonrepair.JSONRepair(s); err == nil {
			var obj map[string]interface{}
			if json.Unmarshal([]byte(repaired), &obj) == nil {
				for _, k := range []string{"summary", "text", "content"} {
					if v, ok := obj[k].(string); ok {
						s = v
						break
					}
				}
			}
		}
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.Join(strings.Fields(s), " ")
}

// NewSummarizerFromConfig builds the configured summarizer; "none" returns nil
func NewSummarizerFromConfig(ctx context.Context, cfg config.SummarizerConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openrouter":
		return NewOpenRouterSummarizer(cfg), nil
	case "gemini":
		return NewGeminiSummarizer(ctx, cfg)
	case "claude":
		return NewClaudeSummarizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Provider)
	}
}

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "z-ai/glm-4.5-air:free"
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultClaudeModel     = "claude-3-5-haiku-latest"
)

// OpenRouterSummarizer calls an OpenAI-compatible chat completions endpoint
type OpenRouterSummarizer struct {
	apiKey  string
	model   string
	baseURL string
	referer string
	title   string
	client  *http.Client
}

// NewOpenRouterSummarizer creates an OpenRouter summarizer
func NewOpenRouterSummarizer(cfg config.SummarizerConfig) *OpenRouterSummarizer {
	s := &OpenRouterSummarizer{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		referer: cfg.Referer,
		title:   cfg.Title,
		client:  &http.Client{},
	}
	if s.model == "" {
		s.model = defaultOpenRouterModel
	}
	if s.baseURL == "" {
		s.baseURL = defaultOpenRouterURL
	}
	return s
}

// Name returns "openrouter"
func (s *OpenRouterSummarizer) Name() string { return "openrouter" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize posts the prompt and returns the first choice
func (s *OpenRouterSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    s.model,
		Messages: []chatMessage{{Role: "user", Content: BuildPrompt(req)}},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if s.referer != "" {
		httpReq.Header.Set("HTTP-Referer", s.referer)
	}
	if s.title != "" {
		httpReq.Header.Set("X-Title", s.title)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openrouter read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("openrouter decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openrouter: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", ErrEmptySummary
	}
	return nonEmpty(parsed.Choices[0].Message.Content)
}

// GeminiSummarizer uses the Google GenAI SDK
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer creates a Gemini summarizer
func NewGeminiSummarizer(ctx context.Context, cfg config.SummarizerConfig) (*GeminiSummarizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

// Name returns "gemini"
func (s *GeminiSummarizer) Name() string { return "gemini" }

// Summarize generates the summary with a low temperature
func (s *GeminiSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model, []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(BuildPrompt(req))},
		},
	}, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.3)),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return nonEmpty(resp.Text())
}

// ClaudeSummarizer uses the Anthropic SDK
type ClaudeSummarizer struct {
	client anthropic.Client
	model  string
}

// NewClaudeSummarizer creates a Claude summarizer
func NewClaudeSummarizer(cfg config.SummarizerConfig) *ClaudeSummarizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	return &ClaudeSummarizer{client: anthropic.NewClient(opts...), model: model}
}

// Name returns "claude"
func (s *ClaudeSummarizer) Name() string { return "claude" }

// Summarize sends a single user message and joins the text blocks of the reply
func (s *ClaudeSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(req))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return nonEmpty(text.String())
}

func nonEmpty(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptySummary
	}
	return s, nil
}

// withTimeout runs a summarizer under a deadline
func withTimeout(ctx context.Context, d time.Duration, s Summarizer, req SummaryRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return s.Summarize(ctx, req)
}
