package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	pdf "github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedFormat is returned for any extension other than
	// .docx or .pdf.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyDocument is returned when decoding succeeds but yields no
	// text (image-only PDFs, empty files). Callers must not persist a
	// document with empty content.
	ErrEmptyDocument = errors.New("document has no extractable text")
)

// ExtractionError wraps a decoder failure (corrupt file, password
// protection) with a human-readable reason.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor converts a document payload plus its declared file name into
// plain text. Extraction can be slow for large files; implementations must
// honor ctx cancellation between units of work.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

type extractor struct{}

// New returns the default Extractor supporting .docx and .pdf payloads.
func New() Extractor {
	return extractor{}
}

func (extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	switch DetectFormat(filename) {
	case FormatDocx:
		return extractDocx(data)
	case FormatPDF:
		return extractPDF(ctx, data)
	default:
		return "", ErrUnsupportedFormat
	}
}

func extractDocx(data []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", &ExtractionError{Reason: "decode docx", Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(ctx context.Context, data []byte) (text string, err error) {
	// The pdf reader panics on some malformed xref tables; convert those
	// into a regular extraction failure.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Reason: fmt.Sprintf("decode pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{Reason: "open pdf", Err: err}
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", &ExtractionError{Reason: fmt.Sprintf("extract pdf page %d", i), Err: err}
		}
		if trimmed := strings.TrimSpace(pageText); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}

	// Page texts are joined in page order with a paragraph break.
	text = strings.TrimSpace(strings.Join(pages, "\n\n"))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
