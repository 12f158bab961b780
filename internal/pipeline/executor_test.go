package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paperdex/paperdex/internal/fetch"
	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/store"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/kafka"
)

type fakeFetcher struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	delay   time.Duration
	failIDs map[string]error
	calls   atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, _, externalID string) (fetch.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.failIDs[externalID]; ok {
		return fetch.Result{Status: fetch.StatusFailed}, err
	}
	return fetch.Result{
		Status: fetch.StatusDownloaded,
		Path:   "/payloads/" + externalID + ".pdf",
		Bytes:  2048,
	}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(path string) paper.ParsedContent {
	return paper.ParsedContent{
		FullText: "text from " + path,
		Sections: []paper.Section{},
		Meta:     paper.ParseInfo{Parser: "fake", Pages: 1},
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) published() []kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Event(nil), p.events...)
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes []paper.Outcome
}

func (s *fakeSink) Add(o paper.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *fakeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// failingStore overrides selected Store methods to inject failures.
type failingStore struct {
	store.Store
	pingErr     error
	existingErr error
	allErr      error
	upsertFail  map[string]error
}

func (s *failingStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Store.Ping(ctx)
}

func (s *failingStore) All(ctx context.Context) ([]paper.Document, error) {
	if s.allErr != nil {
		return nil, s.allErr
	}
	return s.Store.All(ctx)
}

func (s *failingStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	return s.Store.ExistingIDs(ctx, ids)
}

func (s *failingStore) Upsert(ctx context.Context, doc paper.Document) error {
	if err, ok := s.upsertFail[doc.ExternalID]; ok {
		return err
	}
	return s.Store.Upsert(ctx, doc)
}

func makeDescriptors(n int) []paper.Descriptor {
	ds := make([]paper.Descriptor, n)
	for i := range ds {
		id := fmt.Sprintf("2401.%05dv1", i+1)
		ds[i] = paper.Descriptor{
			ExternalID: id,
			Title:      "Paper " + id,
			Summary:    "Summary of " + id,
			PayloadURL: "https://arxiv.org/pdf/" + id,
		}
	}
	return ds
}

func TestExecutorProcessesBatch(t *testing.T) {
	mem := store.NewMemory()
	fetcher := &fakeFetcher{}
	pub := &fakePublisher{}
	sink := &fakeSink{}
	e := NewExecutor(fetcher, fakeExtractor{}, mem, pub, 2, nil)

	descriptors := makeDescriptors(3)
	outcomes, err := e.Run(context.Background(), "run-1", descriptors, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != len(descriptors) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(descriptors))
	}
	for i, o := range outcomes {
		if o.ExternalID != descriptors[i].ExternalID {
			t.Errorf("outcome %d correlates to %s, want %s", i, o.ExternalID, descriptors[i].ExternalID)
		}
		if !o.Succeeded || !o.PayloadDownloaded {
			t.Errorf("outcome %d = %+v, want success", i, o)
		}
	}

	n, _ := mem.Count(context.Background())
	if n != 3 {
		t.Errorf("stored = %d, want 3", n)
	}
	doc, err := mem.FindByExternalID(context.Background(), "2401.00001v1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !strings.Contains(doc.FullText, "2401.00001v1.pdf") {
		t.Errorf("full text not from extractor: %q", doc.FullText)
	}
	if doc.PayloadPath != "/payloads/2401.00001v1.pdf" {
		t.Errorf("payload path = %q", doc.PayloadPath)
	}

	events := pub.published()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	ev, ok := events[0].Value.(paper.IngestedEvent)
	if !ok {
		t.Fatalf("event value is %T", events[0].Value)
	}
	if ev.RunID != "run-1" || events[0].Key != ev.ExternalID {
		t.Errorf("event = key %q value %+v", events[0].Key, ev)
	}
	if sink.len() != 3 {
		t.Errorf("sink outcomes = %d, want 3", sink.len())
	}
}

func TestExecutorIsolatesItemFailures(t *testing.T) {
	mem := store.NewMemory()
	fetcher := &fakeFetcher{failIDs: map[string]error{
		"2401.00003v1": apperrors.Permanent(nil, "upstream returned 404"),
	}}
	e := NewExecutor(fetcher, fakeExtractor{}, mem, &fakePublisher{}, 2, nil)

	descriptors := makeDescriptors(5)
	outcomes, err := e.Run(context.Background(), "run-1", descriptors, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, o := range outcomes {
		want := o.ExternalID != "2401.00003v1"
		if o.Succeeded != want {
			t.Errorf("outcome %d (%s): succeeded = %v, want %v", i, o.ExternalID, o.Succeeded, want)
		}
	}
	bad := outcomes[2]
	if bad.PayloadDownloaded {
		t.Error("failed fetch marked payload downloaded")
	}
	if !strings.Contains(bad.Error, "404") {
		t.Errorf("outcome error = %q", bad.Error)
	}
	n, _ := mem.Count(context.Background())
	if n != 4 {
		t.Errorf("stored = %d, want 4", n)
	}
}

func TestExecutorPersistFailureFailsItemOnly(t *testing.T) {
	st := &failingStore{
		Store:      store.NewMemory(),
		upsertFail: map[string]error{"2401.00002v1": errors.New("row too large")},
	}
	e := NewExecutor(&fakeFetcher{}, fakeExtractor{}, st, nil, 2, nil)

	outcomes, err := e.Run(context.Background(), "run-1", makeDescriptors(3), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	bad := outcomes[1]
	if bad.Succeeded {
		t.Error("persist failure counted as success")
	}
	if !bad.PayloadDownloaded {
		t.Error("payload was downloaded before the persist failed")
	}
	if !strings.Contains(bad.Error, "row too large") {
		t.Errorf("outcome error = %q", bad.Error)
	}
	if !outcomes[0].Succeeded || !outcomes[2].Succeeded {
		t.Error("siblings affected by one persist failure")
	}
}

func TestExecutorRespectsWorkerCeiling(t *testing.T) {
	fetcher := &fakeFetcher{delay: 30 * time.Millisecond}
	e := NewExecutor(fetcher, fakeExtractor{}, store.NewMemory(), nil, 3, nil)

	if _, err := e.Run(context.Background(), "run-1", makeDescriptors(9), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.maxSeen > 3 {
		t.Errorf("concurrent fetches peaked at %d, ceiling 3", fetcher.maxSeen)
	}
	if fetcher.maxSeen < 2 {
		t.Errorf("concurrent fetches peaked at %d, pool never ran in parallel", fetcher.maxSeen)
	}
}

func TestExecutorStoreDownAbortsBatch(t *testing.T) {
	st := &failingStore{Store: store.NewMemory(), pingErr: errors.New("connection refused")}
	fetcher := &fakeFetcher{}
	e := NewExecutor(fetcher, fakeExtractor{}, st, nil, 2, nil)

	_, err := e.Run(context.Background(), "run-1", makeDescriptors(3), nil)
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if apperrors.KindOf(err) != apperrors.KindPrecondition {
		t.Errorf("kind = %v, want precondition", apperrors.KindOf(err))
	}
	if fetcher.calls.Load() != 0 {
		t.Errorf("fetches attempted after failed pre-flight: %d", fetcher.calls.Load())
	}
}

func TestExecutorEmptyBatch(t *testing.T) {
	e := NewExecutor(&fakeFetcher{}, fakeExtractor{}, store.NewMemory(), nil, 2, nil)
	outcomes, err := e.Run(context.Background(), "run-1", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(outcomes))
	}
}

func TestExecutorToleratesPublishFailure(t *testing.T) {
	mem := store.NewMemory()
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	e := NewExecutor(&fakeFetcher{}, fakeExtractor{}, mem, pub, 2, nil)

	outcomes, err := e.Run(context.Background(), "run-1", makeDescriptors(2), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, o := range outcomes {
		if !o.Succeeded {
			t.Errorf("outcome %d failed on publish error: %+v", i, o)
		}
	}
	n, _ := mem.Count(context.Background())
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}
}
