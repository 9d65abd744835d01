// Package knowledge holds the knowledge-base group store: named, bounded
// collections of URLs and locally extracted documents that ground one chat
// scope.
package knowledge

import "fmt"

const (
	// MaxURLs is the most URLs a single group may hold.
	MaxURLs = 20
	// MaxDocuments is the most uploaded documents a single group may hold.
	MaxDocuments = 5
)

// KnowledgeURL is one web page registered in a group. Title defaults to the
// raw URL; a caller may later replace it with a fetched page title.
type KnowledgeURL struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Document is an uploaded file after successful text extraction. Content is
// plain text and never empty.
type Document struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Group is a named collection of URLs and documents. URLs are unique within
// a group; both lists preserve insertion order.
type Group struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	URLs      []KnowledgeURL `json:"urls"`
	Documents []Document     `json:"documents"`
}

// ValidationCode identifies why a store mutation was rejected.
type ValidationCode string

const (
	CodeInvalidURL       ValidationCode = "invalid_url"
	CodeDuplicateURL     ValidationCode = "duplicate_url"
	CodeURLCapacity      ValidationCode = "url_capacity"
	CodeDocumentCapacity ValidationCode = "document_capacity"
	CodeInvalidGroup     ValidationCode = "invalid_group"
	CodeLastGroup        ValidationCode = "last_group"
	CodeEmptyName        ValidationCode = "empty_name"
)

// ValidationError reports a rejected mutation. The store is unchanged
// whenever one is returned.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErrorf(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
