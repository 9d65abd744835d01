// Package suggest derives example questions from the active knowledge
// group via the remote generation service.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/kb-chat/llm"
)

// MaxSuggestions caps how many example questions are kept per fetch.
const MaxSuggestions = 4

// The service wraps its JSON payload in a markdown code fence more often
// than not; strip the fence and parse only the inner content.
var fenceRE = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```$")

// Fetcher issues suggestion requests and applies results in last-write-wins
// order. A fetch triggered by newer state supersedes any slower in-flight
// one: each fetch carries a token compared at apply time so a stale result
// can never overwrite a newer one.
type Fetcher struct {
	client  llm.Client
	timeout time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	nextSeq  uint64
	applied  uint64
	latest   []string
	inFlight int
}

// NewFetcher builds a Fetcher. client may be nil when no credential is
// configured; every refresh then yields an empty list without a call.
func NewFetcher(client llm.Client, timeout time.Duration, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{client: client, timeout: timeout, logger: logger}
}

// Refresh derives suggestions for the given sources and returns the list
// that ended up applied (empty when this fetch lost to a newer one). A
// transport or parse failure empties the suggestion list and is reported to
// the caller for user-visible surfacing; the chat flow itself stays usable.
func (f *Fetcher) Refresh(ctx context.Context, urls, documentTexts []string) ([]string, error) {
	f.mu.Lock()
	f.nextSeq++
	token := f.nextSeq
	f.inFlight++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.client == nil || (len(urls) == 0 && len(documentTexts) == 0) {
		f.apply(token, nil)
		return nil, nil
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	body, err := f.client.Suggest(ctx, urls, documentTexts)
	if err != nil {
		f.logger.Printf("suggestion fetch failed: %v", err)
		f.apply(token, nil)
		return nil, fmt.Errorf("fetch suggestions: %w", err)
	}

	suggestions, err := Parse(body)
	if err != nil {
		f.logger.Printf("suggestion parse failed: %v", err)
		f.apply(token, nil)
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	if f.apply(token, suggestions) {
		return suggestions, nil
	}
	return nil, nil
}

// Suggestions returns the most recently applied list.
func (f *Fetcher) Suggestions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.latest...)
}

// InFlight reports whether any fetch is currently unresolved.
func (f *Fetcher) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight > 0
}

func (f *Fetcher) apply(token uint64, suggestions []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token < f.applied {
		f.logger.Printf("discarding stale suggestion result (token %d < %d)", token, f.applied)
		return false
	}
	f.applied = token
	f.latest = suggestions
	return true
}

// Parse extracts up to MaxSuggestions example questions from a response
// body that is either raw JSON or JSON fenced in a code block. Non-string
// elements are discarded.
func Parse(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if m := fenceRE.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var payload struct {
		Suggestions []any `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if payload.Suggestions == nil {
		return nil, fmt.Errorf("response has no suggestions field")
	}

	out := make([]string, 0, MaxSuggestions)
	for _, v := range payload.Suggestions {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out, nil
}
