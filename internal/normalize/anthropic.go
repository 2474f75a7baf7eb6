package normalize

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/pkg/anthropic"
)

// Anthropic normalizes batches through the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	country   string
}

// NewAnthropic creates an Anthropic normalizer.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64, country string) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens, country: country}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	prompt, err := buildPrompt(rows, a.country)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.Log(a.model, zap.Int("rows", len(rows)))
	cost.FromContext(ctx).AddTokens(a.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if resp.StopReason == "max_tokens" {
		return nil, eris.Errorf("normalize: anthropic response truncated after %d tokens", resp.Usage.OutputTokens)
	}
	return parseResponse(resp.Text(), rows)
}
