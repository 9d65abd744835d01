package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

type openAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds the OpenAI-compatible provider. It inlines URLs
// and document texts into the prompt and reports no retrieval metadata.
func NewOpenAIClient(apiKey, baseURL, model string) Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Result, error) {
	text, err := c.complete(ctx, generationSystemPrompt(), formatGenerationPrompt(req))
	if err != nil {
		return Result{}, err
	}
	return Result{Text: strings.TrimSpace(text)}, nil
}

func (c *openAIClient) Suggest(ctx context.Context, urls, documentTexts []string) (string, error) {
	return c.complete(ctx, suggestionSystemPrompt(), formatSuggestionPrompt(urls, documentTexts))
}

func (c *openAIClient) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
