package tracker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	domainerrors "nsmigrate/internal/core/errors"
)

// MemoryStore keeps progress in process. It backs dry runs and tests.
type MemoryStore struct {
	mu          sync.Mutex
	progress    []byte
	files       map[string]FileRecord
	checkpoints []Checkpoint
	snapshots   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]FileRecord),
		snapshots: make(map[string][]byte),
	}
}

func (m *MemoryStore) Load(context.Context) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress == nil {
		return nil, nil
	}
	p := &Progress{}
	if err := json.Unmarshal(m.progress, p); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeCorruptState, "decode progress")
	}
	for _, rec := range m.files {
		p.PutRecord(rec)
	}
	return p, nil
}

func (m *MemoryStore) SaveProgress(_ context.Context, p *Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = data
	return nil
}

func (m *MemoryStore) SaveFile(_ context.Context, rec FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[rec.Path] = rec
	return nil
}

func (m *MemoryStore) ReplaceFiles(_ context.Context, recs []FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string]FileRecord, len(recs))
	for _, rec := range recs {
		m.files[rec.Path] = rec
	}
	return nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, cp)
	if _, ok := m.snapshots[cp.SnapshotID]; !ok {
		m.snapshots[cp.SnapshotID] = append([]byte(nil), content...)
	}
	return nil
}

func (m *MemoryStore) Checkpoints(_ context.Context, fromPhase int) ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Checkpoint
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].Phase >= fromPhase {
			out = append(out, m.checkpoints[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.snapshots[id]
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeCorruptState, "snapshot %s is missing", id)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) DeleteCheckpoints(_ context.Context, fromPhase int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.checkpoints[:0]
	referenced := make(map[string]bool)
	for _, cp := range m.checkpoints {
		if cp.Phase < fromPhase {
			kept = append(kept, cp)
			referenced[cp.SnapshotID] = true
		}
	}
	m.checkpoints = kept
	for id := range m.snapshots {
		if !referenced[id] {
			delete(m.snapshots, id)
		}
	}
	return nil
}
