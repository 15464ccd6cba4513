package persist

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// MemoryStore keeps blobs and records in process. Used when no object store
// or database is configured, and by the offline CLI.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	records map[string]transcript.AnalysisRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:   make(map[string][]byte),
		records: make(map[string]transcript.AnalysisRecord),
		now:     time.Now,
	}
}

// Put implements BlobStore
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return "memory://" + key, nil
}

// Remove implements BlobStore
func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Blob returns a stored object
func (m *MemoryStore) Blob(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	return b, ok
}

// Insert implements RecordStore. Re-inserting a session replaces the record
// but keeps its original creation time.
func (m *MemoryStore) Insert(ctx context.Context, rec transcript.AnalysisRecord) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	createdAt := m.now().UTC()
	if prev, ok := m.records[rec.SessionID]; ok {
		createdAt = prev.CreatedAt
	}
	rec.CreatedAt = createdAt
	m.records[rec.SessionID] = rec
	return createdAt, nil
}

// Get implements RecordStore
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (transcript.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return transcript.AnalysisRecord{}, ErrNotFound
	}
	return rec, nil
}

// List implements RecordStore, newest first
func (m *MemoryStore) List(ctx context.Context, userID string, limit int) ([]transcript.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]transcript.AnalysisRecord, 0, len(m.records))
	for _, rec := range m.records {
		if userID == "" || rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping reports the store as always reachable
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
