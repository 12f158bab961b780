package extract

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dslipak/pdf"

	"github.com/paperdex/paperdex/internal/paper"
)

type fakeStrategy struct {
	name    string
	content paper.ParsedContent
	err     error
	calls   int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Extract(string) (paper.ParsedContent, error) {
	f.calls++
	return f.content, f.err
}

func TestChainFirstSuccessWins(t *testing.T) {
	first := &fakeStrategy{
		name:    "first",
		content: paper.ParsedContent{FullText: "hello", Meta: paper.ParseInfo{Parser: "first"}},
	}
	second := &fakeStrategy{name: "second"}

	got := NewChain(nil, first, second).Extract("whatever.pdf")
	if got.Meta.Parser != "first" {
		t.Errorf("parser = %q, want first", got.Meta.Parser)
	}
	if second.calls != 0 {
		t.Error("later strategy ran after an earlier success")
	}
}

func TestChainFallsThrough(t *testing.T) {
	first := &fakeStrategy{name: "first", err: errors.New("cannot open")}
	second := &fakeStrategy{
		name:    "second",
		content: paper.ParsedContent{FullText: "recovered", Meta: paper.ParseInfo{Parser: "second"}},
	}

	got := NewChain(nil, first, second).Extract("whatever.pdf")
	if got.Meta.Parser != "second" {
		t.Errorf("parser = %q, want second", got.Meta.Parser)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d, %d; want 1, 1", first.calls, second.calls)
	}
}

func TestChainDegradesOnExhaustion(t *testing.T) {
	first := &fakeStrategy{name: "first", err: errors.New("bad header")}
	second := &fakeStrategy{name: "second", err: errors.New("binary junk")}

	got := NewChain(nil, first, second).Extract("whatever.pdf")
	if got.Meta.Parser != "none" {
		t.Errorf("parser = %q, want none", got.Meta.Parser)
	}
	if got.FullText != "" {
		t.Errorf("full text = %q, want empty", got.FullText)
	}
	if got.Sections == nil || len(got.Sections) != 0 {
		t.Errorf("sections = %v, want empty non-nil", got.Sections)
	}
	if got.Meta.Error != "binary junk" {
		t.Errorf("degraded reason = %q, want the last miss", got.Meta.Error)
	}
}

func TestPlaintextStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text body"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewPlaintext().Extract(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got.FullText != "plain text body" {
		t.Errorf("full text = %q", got.FullText)
	}
	if got.Meta.Parser != "plaintext" {
		t.Errorf("parser = %q", got.Meta.Parser)
	}
	if len(got.Sections) != 0 {
		t.Errorf("plaintext carried sections: %v", got.Sections)
	}
}

func TestDefaultChainOnTextPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2401.00001.txt")
	if err := os.WriteFile(path, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := NewChain(nil).Extract(path)
	if got.Meta.Parser != "plaintext" {
		t.Errorf("parser = %q, want plaintext fallback", got.Meta.Parser)
	}
	if got.FullText != "not a pdf at all" {
		t.Errorf("full text = %q", got.FullText)
	}
}

func TestPDFStrategyMissesOnGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0xff, 0xfe, 0x25}, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewPDF().Extract(path); err == nil {
		t.Fatal("want miss for garbage bytes")
	}
}

func TestOutlineSections(t *testing.T) {
	root := pdf.Outline{
		Child: []pdf.Outline{
			{Title: "1 Introduction", Child: []pdf.Outline{
				{Title: "1.1 Motivation"},
			}},
			{Title: "2 Methods"},
		},
	}

	got := outlineSections(root, 0)
	want := []paper.Section{
		{Type: "section_header", Text: "1 Introduction", Level: 1},
		{Type: "section_header", Text: "1.1 Motivation", Level: 2},
		{Type: "section_header", Text: "2 Methods", Level: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sections = %+v, want %+v", got, want)
	}
}
