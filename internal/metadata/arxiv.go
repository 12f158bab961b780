// Package metadata lists candidate papers for ingestion. The arXiv
// Atom API is the production source; pipeline tests substitute fakes.
package metadata

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/pkg/config"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
)

// Source lists candidate papers for a query. Implementations must be
// safe for concurrent use.
type Source interface {
	Fetch(ctx context.Context, query string, maxResults int) ([]paper.Descriptor, error)
}

const (
	defaultBaseURL = "https://export.arxiv.org"
	defaultTimeout = 30 * time.Second
)

// Arxiv queries the arXiv Atom API, newest submissions first.
type Arxiv struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewArxiv(cfg config.MetadataConfig) *Arxiv {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Arxiv{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "metadata-source"),
	}
}

// atom* types mirror the slice of the Atom schema we read.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Authors    []atomAuthor   `xml:"author"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func (a *Arxiv) Fetch(ctx context.Context, query string, maxResults int) ([]paper.Descriptor, error) {
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	endpoint := a.baseURL + "/api/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Internal(err, "building metadata request")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transient(err, "querying metadata source")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Transient(nil, "metadata source returned %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, apperrors.Internal(err, "decoding metadata feed")
	}

	descriptors := make([]paper.Descriptor, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		d := entry.descriptor()
		if err := d.Validate(); err != nil {
			a.logger.Warn("skipping malformed feed entry", "error", err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	a.logger.Info("metadata fetched",
		"query", query, "requested", maxResults, "usable", len(descriptors))
	return descriptors, nil
}

// descriptor converts a feed entry. The external ID is the last path
// segment of the entry ID URL, e.g. "2401.00001v1".
func (e atomEntry) descriptor() paper.Descriptor {
	authors := make([]string, 0, len(e.Authors))
	for _, author := range e.Authors {
		if name := strings.TrimSpace(author.Name); name != "" {
			authors = append(authors, name)
		}
	}
	categories := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if c.Term != "" {
			categories = append(categories, c.Term)
		}
	}

	published, _ := time.Parse(time.RFC3339, strings.TrimSpace(e.Published))

	id := strings.TrimSpace(e.ID)
	externalID := id[strings.LastIndex(id, "/")+1:]

	return paper.Descriptor{
		ExternalID:  externalID,
		Title:       collapseWhitespace(e.Title),
		Summary:     strings.TrimSpace(e.Summary),
		Authors:     authors,
		Categories:  categories,
		PublishedAt: published,
		PayloadURL:  e.payloadURL(),
	}
}

// payloadURL prefers the feed's explicit pdf link and falls back to
// rewriting the abstract URL.
func (e atomEntry) payloadURL() string {
	for _, l := range e.Links {
		if l.Title == "pdf" && l.Href != "" {
			return l.Href
		}
	}
	return strings.Replace(strings.TrimSpace(e.ID), "/abs/", "/pdf/", 1)
}

// collapseWhitespace flattens the newline-continuation formatting the
// feed uses inside long titles.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
