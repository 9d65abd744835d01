package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

type geminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds the Gemini provider. When the request carries
// URLs, generation runs with the url-context tool enabled so the service
// reads the pages and reports per-URL retrieval status.
func NewGeminiClient(ctx context.Context, apiKey, model string) (Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model == "" {
		model = defaultGeminiModel
	}

	return &geminiClient{client: client, model: model}, nil
}

func (c *geminiClient) Generate(ctx context.Context, req Request) (Result, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(generationSystemPrompt(), genai.RoleUser),
	}
	if len(req.URLs) > 0 {
		cfg.Tools = []*genai.Tool{{URLContext: &genai.URLContext{}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(formatGenerationPrompt(req)), cfg)
	if err != nil {
		return Result{}, fmt.Errorf("gemini generate content: %w", err)
	}

	result := Result{Text: strings.TrimSpace(resp.Text())}

	if len(resp.Candidates) > 0 && resp.Candidates[0].URLContextMetadata != nil {
		for _, meta := range resp.Candidates[0].URLContextMetadata.URLMetadata {
			if meta == nil {
				continue
			}
			result.URLContext = append(result.URLContext, URLContextItem{
				RetrievedURL:    meta.RetrievedURL,
				RetrievalStatus: string(meta.URLRetrievalStatus),
			})
		}
	}

	return result, nil
}

func (c *geminiClient) Suggest(ctx context.Context, urls, documentTexts []string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(suggestionSystemPrompt(), genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(formatSuggestionPrompt(urls, documentTexts)), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini suggest content: %w", err)
	}

	return resp.Text(), nil
}
