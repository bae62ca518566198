// Package pdftext extracts page text from PDF documents with MuPDF via
// go-fitz.
package pdftext

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// Extractor reads the text layer of PDF files. The zero value is ready to
// use and safe for concurrent use; each call opens its own document.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text of every page of the PDF at path, in page order.
// Pages without a text layer yield an empty string. ctx is checked between
// pages.
func (e *Extractor) Extract(ctx context.Context, path string) (pages []string, err error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing pdf: %w", cerr)
		}
	}()

	n := doc.NumPage()
	pages = make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
