package chat

import (
	"time"

	"github.com/fabfab/kb-chat/llm"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderModel  Sender = "model"
	SenderSystem Sender = "system"
)

// Message is one entry in the session log. A model message starts as a
// loading placeholder and is later replaced in place (matched by ID) with
// its final content; that replacement is the only mutation the log allows.
type Message struct {
	ID         string               `json:"id"`
	Text       string               `json:"text"`
	Sender     Sender               `json:"sender"`
	Timestamp  time.Time            `json:"timestamp"`
	IsLoading  bool                 `json:"isLoading"`
	URLContext []llm.URLContextItem `json:"urlContext,omitempty"`
}
