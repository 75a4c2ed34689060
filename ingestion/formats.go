// Package ingestion loads a statute, structures it into chunks and persists
// them to the vector and graph databases.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported source formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatText represents plain UTF-8 text, e.g. a prior PDF extraction.
	FormatText DocumentFormat = "text"
	// FormatDOCX represents Word documents as published by the legislature.
	FormatDOCX DocumentFormat = "docx"
	// FormatHTML represents a saved web page of the statute.
	FormatHTML DocumentFormat = "html"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".txt", ".text":
		return FormatText
	case ".docx":
		return FormatDOCX
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatUnknown
	}
}
