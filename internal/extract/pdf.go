package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dslipak/pdf"

	"github.com/paperdex/paperdex/internal/paper"
)

const defaultPageTimeout = 10 * time.Second

// PDF extracts per-page plain text and derives section headers from the
// document outline.
type PDF struct {
	pageTimeout time.Duration
}

func NewPDF() *PDF {
	return &PDF{pageTimeout: defaultPageTimeout}
}

func (p *PDF) Name() string { return "pdf" }

func (p *PDF) Extract(path string) (paper.ParsedContent, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return paper.ParsedContent{}, fmt.Errorf("opening pdf: %w", err)
	}

	pages := r.NumPage()
	var parts []string
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := p.pageText(page)
		if err != nil {
			// A single bad page should not sink the whole document.
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return paper.ParsedContent{}, errors.New("no extractable text in pdf")
	}

	sections := outlineSections(r.Outline(), 0)
	if sections == nil {
		sections = []paper.Section{}
	}

	return paper.ParsedContent{
		FullText: strings.Join(parts, "\n\n"),
		Sections: sections,
		Meta: paper.ParseInfo{
			Parser:   "pdf",
			Pages:    pages,
			Elements: len(parts) + len(sections),
		},
	}, nil
}

// pageText extracts one page under a timeout. The underlying reader can
// stall or panic on malformed font tables, so the work runs in its own
// goroutine with a recover.
func (p *PDF) pageText(page pdf.Page) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("page extraction panicked: %v", r)}
			}
		}()
		text, err := page.GetPlainText(nil)
		ch <- result{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-time.After(p.pageTimeout):
		return "", errors.New("page extraction timed out")
	}
}

// outlineSections flattens the document outline into ordered section
// headers, depth becoming the heading level. The synthetic root node is
// level 0 and skipped.
func outlineSections(node pdf.Outline, level int) []paper.Section {
	var sections []paper.Section
	if title := strings.TrimSpace(node.Title); level > 0 && title != "" {
		sections = append(sections, paper.Section{
			Type:  "section_header",
			Text:  title,
			Level: level,
		})
	}
	for _, child := range node.Child {
		sections = append(sections, outlineSections(child, level+1)...)
	}
	return sections
}
