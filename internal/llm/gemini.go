package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements Capability for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client}, nil
}

// Enrich produces structured annotations for one text
func (p *GeminiProvider) Enrich(ctx context.Context, text string, params Params) (*EnrichmentResult, error) {
	raw, err := p.generateJSON(ctx, buildEnrichPrompt(text), params)
	if err != nil {
		return nil, err
	}

	result, err := decodeEnrichment(raw)
	if err != nil {
		return nil, err
	}
	result.Model = params.Model
	result.Params = params
	return result, nil
}

// Cluster groups documents and scores each member's relevance
func (p *GeminiProvider) Cluster(ctx context.Context, docs []Document, params Params) ([]Cluster, error) {
	raw, err := p.generateJSON(ctx, buildClusterPrompt(docs), params)
	if err != nil {
		return nil, err
	}

	clusters, err := decodeClusters(raw)
	if err != nil {
		return nil, err
	}
	for i := range clusters {
		clusters[i].Model = params.Model
	}
	return clusters, nil
}

func (p *GeminiProvider) generateJSON(ctx context.Context, prompt string, params Params) (string, error) {
	if params.Model == "" {
		return "", fmt.Errorf("no model configured")
	}

	model := p.client.GenerativeModel(params.Model)
	model.SetTemperature(float32(params.Temperature))
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(params.MaxTokens))
	}
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(resp)
}

// Close releases resources held by the provider
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
