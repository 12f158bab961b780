// Package paper defines the domain types shared by the ingestion pipeline,
// the relational store, the search index, and the Kafka event stream. The
// external ID assigned by the metadata source is the single joining key
// across all of them.
package paper

import (
	"fmt"
	"strings"
	"time"
)

// Descriptor is a candidate document reference returned by the metadata
// source. Immutable once created; identity is ExternalID.
type Descriptor struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Authors     []string  `json:"authors,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	PayloadURL  string    `json:"payload_url"`
}

// Validate reports whether the descriptor carries enough to be ingested.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ExternalID) == "" {
		return fmt.Errorf("descriptor missing external_id")
	}
	if !strings.HasPrefix(d.PayloadURL, "http://") && !strings.HasPrefix(d.PayloadURL, "https://") {
		return fmt.Errorf("descriptor %s: payload_url %q is not an http(s) URL", d.ExternalID, d.PayloadURL)
	}
	return nil
}

// PayloadRecord describes a payload present in the local payload store.
// Absence of a record means "not yet fetched".
type PayloadRecord struct {
	ExternalID string `json:"external_id"`
	LocalPath  string `json:"local_path"`
	ByteSize   int64  `json:"byte_size"`
}

// Section is one structural element of a parsed payload.
type Section struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Level int    `json:"level,omitempty"`
}

// ParseInfo records which parser produced a ParsedContent and how it fared.
type ParseInfo struct {
	Parser   string `json:"parser"`
	Pages    int    `json:"pages,omitempty"`
	Elements int    `json:"elements,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ParsedContent is the extractor's output. Extraction failure yields the
// degraded empty form (empty text, no sections, Meta.Error set) rather than
// an error, so downstream stages always receive a well-formed value.
type ParsedContent struct {
	FullText string    `json:"full_text"`
	Sections []Section `json:"sections"`
	Meta     ParseInfo `json:"parse_metadata"`
}

// Degraded returns the empty ParsedContent recorded when every extraction
// strategy failed.
func Degraded(reason string) ParsedContent {
	return ParsedContent{
		FullText: "",
		Sections: []Section{},
		Meta:     ParseInfo{Parser: "none", Error: reason},
	}
}

// Document is the durable record of an ingested paper, upserted by
// external ID. FullText may legitimately be empty: extraction failure is not
// ingestion failure.
type Document struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Authors     []string   `json:"authors"`
	Categories  []string   `json:"categories"`
	PayloadPath string     `json:"payload_path"`
	FullText    string     `json:"full_text"`
	Sections    []Section  `json:"sections"`
	PublishedAt time.Time  `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
}

// SearchDocument is the projection of a Document stored in the search index,
// keyed by ExternalID so re-indexing overwrites instead of duplicating.
type SearchDocument struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Authors     []string  `json:"authors"`
	Categories  []string  `json:"categories"`
	FullText    string    `json:"full_text"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchDoc builds the index projection of d.
func (d Document) SearchDoc() SearchDocument {
	return SearchDocument{
		ExternalID:  d.ExternalID,
		Title:       d.Title,
		Summary:     d.Summary,
		Authors:     d.Authors,
		Categories:  d.Categories,
		FullText:    d.FullText,
		PublishedAt: d.PublishedAt,
		CreatedAt:   d.CreatedAt,
	}
}

// Outcome is the per-descriptor result of one pipeline run.
type Outcome struct {
	ExternalID        string `json:"external_id"`
	Succeeded         bool   `json:"succeeded"`
	PayloadDownloaded bool   `json:"payload_downloaded"`
	Error             string `json:"error,omitempty"`
}

// Summary aggregates the outcomes of one batch.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	FailedIDs  []string `json:"failed_ids,omitempty"`
}

// Summarize folds a batch of outcomes into a Summary.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Succeeded {
			s.Successful++
			continue
		}
		s.Failed++
		s.FailedIDs = append(s.FailedIDs, o.ExternalID)
	}
	return s
}

// IngestedEvent is the Kafka message produced after a paper is persisted and
// ready for indexing.
type IngestedEvent struct {
	ExternalID string    `json:"external_id"`
	RunID      string    `json:"run_id"`
	IngestedAt time.Time `json:"ingested_at"`
}
