// Package chat owns the ordered message log and the query-to-response
// request cycle against the remote generation service.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/kb-chat/knowledge"
	"github.com/fabfab/kb-chat/llm"
	"github.com/fabfab/kb-chat/suggest"
)

var (
	// ErrEmptyQuery rejects blank or whitespace-only queries.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrBusy rejects a send while a chat request or suggestion fetch is
	// unresolved. Only one chat request may be in flight at a time.
	ErrBusy = errors.New("a request is already in flight")
)

const (
	placeholderText   = "Thinking..."
	emptyResponseText = "The model returned an empty response."

	welcomeText = "Welcome! Add web pages or upload documents to the active knowledge group, then ask a question about them."
	noKeyText   = "No API key is configured, so chat and suggestions are disabled. Set GEMINI_API_KEY (or OPENAI_API_KEY) and restart to enable them."
)

// Session holds the visible message log for the active knowledge group and
// turns user queries into generation requests grounded on that group's URLs
// and document texts.
type Session struct {
	store   *knowledge.Store
	client  llm.Client
	fetcher *suggest.Fetcher
	timeout time.Duration
	logger  *log.Logger

	// mu guards the log and the single-flight flag. The remote call runs
	// outside the lock; inFlight covers the long span.
	mu            sync.Mutex
	messages      []Message
	inFlight      bool
	suggestWarned bool
}

// NewSession builds a session. client is nil when no credential is
// configured; the session then starts degraded with an explanatory system
// message and Send never issues a network call.
func NewSession(store *knowledge.Store, client llm.Client, fetcher *suggest.Fetcher, timeout time.Duration, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}

	s := &Session{
		store:   store,
		client:  client,
		fetcher: fetcher,
		timeout: timeout,
		logger:  logger,
	}
	s.messages = []Message{s.welcomeMessage()}
	// Any move of the active pointer resets the log, including the implicit
	// move when the active group is deleted out from under the session.
	store.OnActiveChange(s.reset)
	return s
}

// Messages returns a snapshot of the log in append order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Send runs one query cycle: append the user message and a loading
// placeholder, call the generation service with the active group's URLs and
// document texts, then replace the placeholder with the outcome. The
// user-visible order (query immediately followed by its own response) holds
// even though generation is asynchronous.
func (s *Session) Send(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}

	s.mu.Lock()
	if s.inFlight || (s.fetcher != nil && s.fetcher.InFlight()) {
		s.mu.Unlock()
		return ErrBusy
	}

	if s.client == nil {
		s.messages = append(s.messages, Message{
			ID:        uuid.NewString(),
			Text:      noKeyText,
			Sender:    SenderSystem,
			Timestamp: time.Now(),
		})
		s.mu.Unlock()
		return nil
	}

	s.inFlight = true
	placeholderID := uuid.NewString()
	s.messages = append(s.messages,
		Message{
			ID:        uuid.NewString(),
			Text:      query,
			Sender:    SenderUser,
			Timestamp: time.Now(),
		},
		Message{
			ID:        placeholderID,
			Text:      placeholderText,
			Sender:    SenderModel,
			Timestamp: time.Now(),
			IsLoading: true,
		},
	)
	s.mu.Unlock()

	var urls, documentTexts []string
	if group, ok := s.store.ActiveGroup(); ok {
		for _, u := range group.URLs {
			urls = append(urls, u.URL)
		}
		for _, d := range group.Documents {
			documentTexts = append(documentTexts, d.Content)
		}
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.client.Generate(callCtx, llm.Request{
		Query:         query,
		URLs:          urls,
		DocumentTexts: documentTexts,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.inFlight = false }()

	if err != nil {
		s.logger.Printf("chat generate failed: %v", err)
		s.replace(placeholderID, Message{
			ID:        placeholderID,
			Text:      "Error: " + err.Error(),
			Sender:    SenderSystem,
			Timestamp: time.Now(),
		})
		return nil
	}

	text := result.Text
	if text == "" {
		text = emptyResponseText
	}
	s.replace(placeholderID, Message{
		ID:         placeholderID,
		Text:       text,
		Sender:     SenderModel,
		Timestamp:  time.Now(),
		URLContext: result.URLContext,
	})
	return nil
}

// SwitchGroup makes another group active. The store's active-change
// callback resets the visible log; history is not retained across groups.
func (s *Session) SwitchGroup(ctx context.Context, groupID string) error {
	return s.store.SetActiveGroup(ctx, groupID)
}

// RefreshSuggestions re-derives example questions from the active group's
// current sources. A failed fetch degrades the suggestion list to empty and
// surfaces one system message in the log; repeat failures stay silent until
// a fetch succeeds or the log resets.
func (s *Session) RefreshSuggestions(ctx context.Context) []string {
	if s.fetcher == nil {
		return nil
	}

	var urls, documentTexts []string
	if group, ok := s.store.ActiveGroup(); ok {
		for _, u := range group.URLs {
			urls = append(urls, u.URL)
		}
		for _, d := range group.Documents {
			documentTexts = append(documentTexts, d.Content)
		}
	}

	suggestions, err := s.fetcher.Refresh(ctx, urls, documentTexts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.suggestWarned {
			s.suggestWarned = true
			s.messages = append(s.messages, Message{
				ID:        uuid.NewString(),
				Text:      "Suggestions are unavailable right now: " + err.Error(),
				Sender:    SenderSystem,
				Timestamp: time.Now(),
			})
		}
		return nil
	}
	s.suggestWarned = false
	return suggestions
}

// reset drops the log back to a single fresh welcome message.
func (s *Session) reset() {
	s.mu.Lock()
	s.messages = []Message{s.welcomeMessage()}
	s.suggestWarned = false
	s.mu.Unlock()
}

// replace swaps the placeholder (matched by id) for its final content; the
// log is append-only apart from this one transition.
func (s *Session) replace(id string, final Message) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i] = final
			return
		}
	}
	// The placeholder is only ever removed by this method, so a miss means
	// the log was reset mid-flight; drop the result.
	s.logger.Printf("placeholder %s no longer present, dropping response", id)
}

func (s *Session) welcomeMessage() Message {
	text := welcomeText
	if s.client == nil {
		text = noKeyText
	}
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderSystem,
		Timestamp: time.Now(),
	}
}
