// Package extract converts uploaded document files into plain text.
package extract

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatDocx represents Word documents.
	FormatDocx DocumentFormat = "docx"
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
)

// DetectFormat infers a document format from the provided file name's
// extension. Matching is case-insensitive.
func DetectFormat(name string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".docx":
		return FormatDocx
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}
