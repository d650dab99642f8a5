package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// TextModel is the slice of an LLM client the generator needs. It returns
// the raw response text and the total token count.
type TextModel interface {
	GenerateJSON(ctx context.Context, prompt string) (string, int, error)
}

// genaiModel calls Gemini through google.golang.org/genai.
type genaiModel struct {
	client *genai.Client
	model  string
}

// NewGenaiModel builds a TextModel for the given API key and model name.
func NewGenaiModel(ctx context.Context, apiKey, model string) (TextModel, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &genaiModel{client: client, model: model}, nil
}

func (m *genaiModel) GenerateJSON(ctx context.Context, prompt string) (string, int, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", 0, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("no candidates returned")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return sb.String(), tokens, nil
}

// GeminiGenerator implements dispatch.Generator on top of a TextModel.
type GeminiGenerator struct {
	model        TextModel
	costPerToken float64
	timeout      time.Duration
	logger       *zap.Logger
}

// NewGeminiGenerator wraps model. A nil model yields a generator that always
// reports itself not ready, so primary items wait instead of failing.
func NewGeminiGenerator(model TextModel, costPerToken float64, timeout time.Duration, logger *zap.Logger) *GeminiGenerator {
	return &GeminiGenerator{model: model, costPerToken: costPerToken, timeout: timeout, logger: logger}
}

func (g *GeminiGenerator) CheckReadiness(context.Context) dispatch.Readiness {
	if g.model == nil {
		return dispatch.Readiness{Errors: []string{"GEMINI_API_KEY is not configured"}}
	}
	return dispatch.Readiness{Ready: true}
}

func (g *GeminiGenerator) Generate(ctx context.Context, item *domain.QueueItem, c *domain.Context) (*dispatch.Generation, error) {
	if g.model == nil {
		return nil, domain.ErrNotReady
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(item, c)
	start := time.Now()
	text, tokens, err := g.model.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var content dispatch.Content
	cleaned := cleanJSONBlock(text)
	if err := json.Unmarshal([]byte(cleaned), &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}

	g.logger.Debug("content generated",
		zap.String("item_id", item.ID),
		zap.String("content_type", item.ContentType),
		zap.Int("tokens", tokens),
	)
	return &dispatch.Generation{
		Content: content,
		Stats: dispatch.Stats{
			Tokens:   tokens,
			Cost:     float64(tokens) * g.costPerToken,
			Duration: time.Since(start),
		},
	}, nil
}

// BuildPrompt assembles the generation prompt. A context may override the
// instruction per content type; the item's source_ref is always appended.
func BuildPrompt(item *domain.QueueItem, c *domain.Context) string {
	instruction, ok := c.Prompt(item.ContentType)
	if !ok {
		instruction = fmt.Sprintf("Write a %s article for readers following %s.",
			strings.ReplaceAll(item.ContentType, "_", " "), displayName(c))
	}

	var b strings.Builder
	b.WriteString(instruction)
	fmt.Fprintf(&b, "\nWrite in the language with ISO code %q.", item.Lang)
	if len(item.SourceRef) > 0 {
		b.WriteString("\nSubject details (JSON):\n")
		b.Write(item.SourceRef)
	}
	b.WriteString("\nRespond with a JSON object with the string fields \"title\", \"excerpt\" and \"body\". The body is HTML.")
	return b.String()
}

func displayName(c *domain.Context) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Slug
}

// cleanJSONBlock strips a Markdown code fence around a JSON response.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

var _ dispatch.Generator = (*GeminiGenerator)(nil)
