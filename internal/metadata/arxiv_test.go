package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paperdex/paperdex/pkg/config"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title type="html">ArXiv Query: search_query=all:electron</title>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2024-01-02T18:30:00Z</published>
    <title>Electron Transport in
 Layered Materials</title>
    <summary>  We study transport.
</summary>
    <author><name>Jane Doe</name></author>
    <author><name>John Roe</name></author>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
    <category term="cond-mat.mes-hall" scheme="http://arxiv.org/schemas/atom"/>
    <category term="quant-ph" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <published>2024-01-03T09:00:00Z</published>
    <title>No PDF Link Here</title>
    <summary>Falls back to URL rewriting.</summary>
    <author><name>Solo Author</name></author>
    <link href="http://arxiv.org/abs/2401.00002v1" rel="alternate" type="text/html"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id></id>
    <title>Broken entry without an id</title>
    <summary>Should be skipped.</summary>
  </entry>
</feed>`

func TestArxivFetch(t *testing.T) {
	var gotQuery, gotMax string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("search_query")
		gotMax = r.URL.Query().Get("max_results")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(feedFixture))
	}))
	defer srv.Close()

	src := NewArxiv(config.MetadataConfig{BaseURL: srv.URL})
	descriptors, err := src.Fetch(context.Background(), "all:electron", 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery != "all:electron" {
		t.Errorf("search_query = %q", gotQuery)
	}
	if gotMax != "10" {
		t.Errorf("max_results = %q", gotMax)
	}
	if len(descriptors) != 2 {
		t.Fatalf("descriptors = %d, want 2 (broken entry skipped)", len(descriptors))
	}

	first := descriptors[0]
	if first.ExternalID != "2401.00001v1" {
		t.Errorf("external_id = %q", first.ExternalID)
	}
	if first.Title != "Electron Transport in Layered Materials" {
		t.Errorf("title = %q (newline continuation not collapsed)", first.Title)
	}
	if first.Summary != "We study transport." {
		t.Errorf("summary = %q", first.Summary)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "Jane Doe" {
		t.Errorf("authors = %v", first.Authors)
	}
	if len(first.Categories) != 2 || first.Categories[0] != "cond-mat.mes-hall" {
		t.Errorf("categories = %v", first.Categories)
	}
	if first.PayloadURL != "http://arxiv.org/pdf/2401.00001v1" {
		t.Errorf("payload_url = %q, want the feed's pdf link", first.PayloadURL)
	}
	want := time.Date(2024, 1, 2, 18, 30, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("published_at = %v, want %v", first.PublishedAt, want)
	}

	second := descriptors[1]
	if second.PayloadURL != "http://arxiv.org/pdf/2401.00002v1" {
		t.Errorf("payload_url = %q, want /abs/ rewritten to /pdf/", second.PayloadURL)
	}
}

func TestArxivFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewArxiv(config.MetadataConfig{BaseURL: srv.URL})
	_, err := src.Fetch(context.Background(), "all:electron", 10)
	if err == nil {
		t.Fatal("want error for 503")
	}
	if !apperrors.IsTransient(err) {
		t.Errorf("kind = %s, want transient", apperrors.KindOf(err))
	}
}

func TestArxivFetchBadXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not xml"))
	}))
	defer srv.Close()

	src := NewArxiv(config.MetadataConfig{BaseURL: srv.URL})
	if _, err := src.Fetch(context.Background(), "q", 1); err == nil {
		t.Fatal("want error for unparseable feed")
	}
}
