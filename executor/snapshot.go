package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// SnapshotStore captures and restores a file's contents around a
// potentially-destructive operation, generalizing tool.writeFileTool's
// backup-to-".bak" convention into a addressable, restorable snapshot.
type SnapshotStore interface {
	Create(ctx context.Context, path string) (snapshotID string, err error)
	Restore(ctx context.Context, snapshotID, path string) error
}

// MemorySnapshotStore holds snapshot contents in memory, suitable for a
// single task run; a durable deployment would back this with object storage.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	counter int64
	data    map[string][]byte
}

// NewMemorySnapshotStore constructs an empty MemorySnapshotStore.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string][]byte)}
}

// Create reads path's current contents (treating a missing file as an empty
// snapshot, so a rollback can delete what a Create operation added) and
// stores them under a new snapshot ID.
func (s *MemorySnapshotStore) Create(_ context.Context, path string) (string, error) {
	var contents []byte
	if data, err := os.ReadFile(path); err == nil {
		contents = data
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("snapshot create: %w", err)
	}

	id := fmt.Sprintf("snap-%d", atomic.AddInt64(&s.counter, 1))
	s.mu.Lock()
	s.data[id] = contents
	s.mu.Unlock()
	return id, nil
}

// Restore writes a snapshot's captured contents back to path.
func (s *MemorySnapshotStore) Restore(_ context.Context, snapshotID, path string) error {
	s.mu.Lock()
	contents, ok := s.data[snapshotID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("snapshot %q not found", snapshotID)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("snapshot restore: %w", err)
	}
	return nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
