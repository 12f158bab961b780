package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lu4p/cat"

	"github.com/paperdex/paperdex/internal/paper"
)

// Plaintext reads the payload as raw text. It recovers content from
// text-like payloads the structured parser cannot open, at the cost of
// section structure.
type Plaintext struct{}

func NewPlaintext() *Plaintext { return &Plaintext{} }

func (p *Plaintext) Name() string { return "plaintext" }

func (p *Plaintext) Extract(path string) (paper.ParsedContent, error) {
	text, err := cat.File(path)
	if err != nil {
		return paper.ParsedContent{}, fmt.Errorf("reading as plain text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return paper.ParsedContent{}, errors.New("no text content")
	}
	return paper.ParsedContent{
		FullText: text,
		Sections: []paper.Section{},
		Meta:     paper.ParseInfo{Parser: "plaintext"},
	}, nil
}
