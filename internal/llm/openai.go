package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Capability for OpenAI models
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey)}, nil
}

// Enrich produces structured annotations for one text
func (p *OpenAIProvider) Enrich(ctx context.Context, text string, params Params) (*EnrichmentResult, error) {
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
func (p *OpenAIProvider) Cluster(ctx context.Context, docs []Document, params Params) ([]Cluster, error) {
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

func (p *OpenAIProvider) generateJSON(ctx context.Context, prompt string, params Params) (string, error) {
	if params.Model == "" {
		return "", fmt.Errorf("no model configured")
	}

	req := openai.ChatCompletionRequest{
		Model: params.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You return only valid JSON with no surrounding prose.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close releases resources held by the provider
func (p *OpenAIProvider) Close() error {
	return nil
}
