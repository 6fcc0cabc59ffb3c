package checkpoint

import (
	"sync"
	"time"
)

// defaultRetain is how many checkpoint versions stores keep per thread.
// Older versions only matter until their interrupt resolves, so a short
// lineage is enough.
const defaultRetain = 8

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]storedCheckpoint // threadID -> versions, oldest first
	retain int
	closed bool
}

// storedCheckpoint holds checkpoint data with metadata for List().
type storedCheckpoint struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string][]storedCheckpoint),
		retain: defaultRetain,
	}
}

// Save implements Store.
func (m *MemoryStore) Save(threadID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	versions := m.data[threadID]
	seq := 1
	if len(versions) > 0 {
		seq = versions[len(versions)-1].sequence + 1
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	versions = append(versions, storedCheckpoint{
		data:      stored,
		sequence:  seq,
		timestamp: time.Now().UTC(),
	})

	if len(versions) > m.retain {
		versions = versions[len(versions)-m.retain:]
	}
	m.data[threadID] = versions

	return nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(threadID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	versions := m.data[threadID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}

	latest := versions[len(versions)-1]

	// Return a copy to prevent modification
	result := make([]byte, len(latest.data))
	copy(result, latest.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	versions := m.data[threadID]
	infos := make([]Info, 0, len(versions))
	for _, cp := range versions {
		infos = append(infos, Info{
			ThreadID:  threadID,
			Sequence:  cp.sequence,
			Timestamp: cp.timestamp,
			Size:      int64(len(cp.data)),
		})
	}

	return infos, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, versions := range m.data {
		count += len(versions)
	}
	return count
}
