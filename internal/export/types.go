// Package export renders updates to printable PDF documents.
package export

import (
	"errors"
	"html/template"
	"time"
)

// Update is the printable form of an update. Body must already be sanitized.
type Update struct {
	ID        int64
	Title     string
	Slug      string
	Body      template.HTML
	CreatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates no Chrome or Chromium binary could be found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
