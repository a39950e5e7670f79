package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/fueltrack/core/factory"
)

// Store persists snapshot records. Save replaces all records with the same
// key.
type Store interface {
	Save(ctx context.Context, recs []Record) error
	Load(ctx context.Context, vehicleID string) ([]Record, error)
	LoadAll(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, vehicleID string) error
	Close() error
}

var storeRegistry = factory.NewRegistry[Store]()

func init() {
	storeRegistry.MustRegister("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// RegisterStore adds a store factory identified by name.
func RegisterStore(name string, f factory.Factory[Store]) error {
	return storeRegistry.Register(name, f)
}

// NewStore creates the store described by cfg. An empty type selects the
// in-memory store.
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return storeRegistry.Create(cfg)
}

// MemoryStore keeps records in a map. It is used by tests and the replay
// command.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Record{}}
}

func (s *MemoryStore) Save(ctx context.Context, recs []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.data[r.Key()] = r
	}
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, vehicleID string) ([]Record, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, vehicleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.data {
		if r.VehicleID == vehicleID {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
