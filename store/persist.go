package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/KodaTao/linguachat/model"
)

// StorageName 持久化记录的名称
const StorageName = "linguachat-storage"

var ErrNotFound = errors.New("store: record not found")

// Snapshot is the persisted subset of a Store.
type Snapshot struct {
	Selections         model.Selections            `json:"selections"`
	Vocabulary         []model.VocabularyItem      `json:"vocabulary"`
	History            []model.ConversationHistory `json:"conversationHistory"`
	CorrectionsVisible bool                        `json:"isCorrectionsVisible"`
}

// Persister loads and saves snapshots under a record name. Load returns
// ErrNotFound for a record that was never saved.
type Persister interface {
	Load(ctx context.Context, name string) (*Snapshot, error)
	Save(ctx context.Context, name string, snap Snapshot) error
}

// RecordName returns the record a learner's state lives under.
func RecordName(learner string) string {
	if learner == "" {
		return StorageName
	}
	return StorageName + ":" + learner
}

// MemoryPersister keeps encoded snapshots in a map, so values round-trip the
// same way they do on disk.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[string][]byte)}
}

func (m *MemoryPersister) Load(_ context.Context, name string) (*Snapshot, error) {
	m.mu.Lock()
	data, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *MemoryPersister) Save(_ context.Context, name string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[name] = data
	m.mu.Unlock()
	return nil
}
