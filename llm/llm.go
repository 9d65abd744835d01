// Package llm wraps the remote text-generation service behind a small
// client interface with interchangeable providers.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/kb-chat/config"
)

// URLContextItem reports whether the service actually retrieved one of the
// grounding URLs while generating an answer.
type URLContextItem struct {
	RetrievedURL    string `json:"retrievedUrl"`
	RetrievalStatus string `json:"retrievalStatus"`
}

// Request carries one user query plus the grounding context of the active
// knowledge group.
type Request struct {
	Query         string
	URLs          []string
	DocumentTexts []string
}

// Result is the generated answer plus any per-URL retrieval metadata the
// provider reports. Providers without URL retrieval leave URLContext nil.
type Result struct {
	Text       string
	URLContext []URLContextItem
}

// Client is the remote generation service. Generate answers a grounded
// query; Suggest produces the raw response body for the example-question
// prompt (parsing is the caller's concern).
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Suggest(ctx context.Context, urls []string, documentTexts []string) (string, error)
}

// NewClient builds the provider selected by the configuration.
func NewClient(ctx context.Context, cfg config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
		}
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.LLM.Model)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}

func generationSystemPrompt() string {
	return "You are a helpful assistant. Answer using the provided web pages and document excerpts as your primary sources. If the sources do not cover the question, say so and answer from general knowledge. Respond in markdown."
}

func suggestionSystemPrompt() string {
	return `You generate example questions a user might ask about the provided sources. Respond with a JSON object of the form {"suggestions": ["question", ...]} and nothing else.`
}

func formatGenerationPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(req.Query)
	writeSources(&sb, req.URLs, req.DocumentTexts)
	return sb.String()
}

func formatSuggestionPrompt(urls, documentTexts []string) string {
	var sb strings.Builder
	sb.WriteString("Produce up to 4 short example questions about the following sources.")
	writeSources(&sb, urls, documentTexts)
	return sb.String()
}

func writeSources(sb *strings.Builder, urls, documentTexts []string) {
	if len(urls) > 0 {
		sb.WriteString("\n\nWeb pages:\n")
		for _, u := range urls {
			sb.WriteString("- ")
			sb.WriteString(u)
			sb.WriteString("\n")
		}
	}
	for i, text := range documentTexts {
		sb.WriteString(fmt.Sprintf("\nDocument %d:\n", i+1))
		sb.WriteString(text)
		sb.WriteString("\n")
	}
}
