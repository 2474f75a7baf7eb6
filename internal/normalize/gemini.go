package normalize

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/resilience"
)

// GeminiConfig configures the Gemini normalizer.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Country string

	// BaseURL overrides the Gemini API base URL.
	BaseURL string
}

// Gemini normalizes batches with a Gemini model constrained to a JSON schema.
type Gemini struct {
	client  *genai.Client
	model   string
	country string
}

// NewGemini creates a Gemini normalizer.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("normalize: gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("normalize: gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: gemini client")
	}
	return &Gemini{client: client, model: strings.TrimSpace(cfg.Model), country: cfg.Country}, nil
}

func (g *Gemini) Name() string { return "gemini" }

var geminiSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"row_index":       {Type: genai.TypeInteger},
			"cleaned_address": {Type: genai.TypeString},
			"street":          {Type: genai.TypeString},
			"city":            {Type: genai.TypeString},
			"state":           {Type: genai.TypeString},
			"country":         {Type: genai.TypeString},
			"phone":           {Type: genai.TypeString},
			"email":           {Type: genai.TypeString},
		},
		Required: []string{"row_index", "cleaned_address", "city", "state"},
	},
}

func (g *Gemini) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	prompt, err := buildPrompt(rows, g.country)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		CandidateCount:    1,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    geminiSchema,
	})
	if err != nil {
		return nil, classifyGeminiErr(eris.Wrap(err, "normalize: gemini generate"))
	}
	if um := resp.UsageMetadata; um != nil {
		cost.FromContext(ctx).AddTokens(g.model, int64(um.PromptTokenCount), int64(um.CandidatesTokenCount))
	}
	return parseResponse(resp.Text(), rows)
}

// classifyGeminiErr wraps rate limits, server errors and network timeouts
// as transient.
func classifyGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return resilience.NewTransientError(err, apiErr.Code)
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return resilience.NewTransientError(err, 0)
	}
	return err
}
