package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
)

// Memory is an in-memory Store used by tests and the pipeline's unit
// harness. It mirrors the Postgres implementation's upsert semantics.
type Memory struct {
	mu     sync.RWMutex
	papers map[string]paper.Document
}

func NewMemory() *Memory {
	return &Memory{papers: make(map[string]paper.Document)}
}

func (m *Memory) Upsert(_ context.Context, doc paper.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if existing, ok := m.papers[doc.ExternalID]; ok {
		doc.CreatedAt = existing.CreatedAt
	}
	doc.IndexedAt = nil
	m.papers[doc.ExternalID] = clone(doc)
	return nil
}

func (m *Memory) FindByExternalID(_ context.Context, externalID string) (paper.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.papers[externalID]
	if !ok {
		return paper.Document{}, fmt.Errorf("paper %s: %w", externalID, apperrors.ErrPaperNotFound)
	}
	return clone(doc), nil
}

func (m *Memory) ExistingIDs(_ context.Context, externalIDs []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := m.papers[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (m *Memory) All(_ context.Context) ([]paper.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]paper.Document, 0, len(m.papers))
	for _, doc := range m.papers {
		docs = append(docs, clone(doc))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ExternalID < docs[j].ExternalID })
	return docs, nil
}

func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.papers)), nil
}

func (m *Memory) MarkIndexed(_ context.Context, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.papers[externalID]
	if !ok {
		return fmt.Errorf("paper %s: %w", externalID, apperrors.ErrPaperNotFound)
	}
	doc.IndexedAt = &at
	m.papers[externalID] = doc
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func clone(doc paper.Document) paper.Document {
	doc.Authors = append([]string(nil), doc.Authors...)
	doc.Categories = append([]string(nil), doc.Categories...)
	doc.Sections = append([]paper.Section(nil), doc.Sections...)
	if doc.IndexedAt != nil {
		t := *doc.IndexedAt
		doc.IndexedAt = &t
	}
	return doc
}
