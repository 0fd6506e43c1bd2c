package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/collation"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// memRecord — запись in-memory хранилища с порядковым номером вставки.
type memRecord struct {
	rec *model.Record
	seq uint64
}

// MemoryStore — in-memory реализация RecordStore.
// Состояние теряется при перезапуске процесса. Наружу отдаются только
// глубокие копии записей. Уникальный индекс (collection, name)
// эмулируется картой ключей сортировки collation.Key.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*memRecord // collection -> id -> запись
	names   map[string]map[string]string     // collection -> ключ имени -> id
	seq     uint64
	now     func() time.Time
}

// NewMemoryStore создаёт пустое in-memory хранилище записей.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]*memRecord),
		names:   make(map[string]map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) collection(name string) map[string]*memRecord {
	c, ok := s.records[name]
	if !ok {
		c = make(map[string]*memRecord)
		s.records[name] = c
		s.names[name] = make(map[string]string)
	}
	return c
}

func (s *MemoryStore) GetByID(_ context.Context, collection, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.records[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.rec.Clone(), nil
}

func (s *MemoryStore) FindOneCaseInsensitive(_ context.Context, collection, field, value, excludeID string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.sorted(collection) {
		if excludeID != "" && m.rec.ID == excludeID {
			continue
		}
		var candidate string
		if field == NameField {
			candidate = m.rec.Name
		} else {
			v, ok := m.rec.Fields[field].(string)
			if !ok {
				continue
			}
			candidate = v
		}
		if collation.Equal(candidate, value) {
			return m.rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// sorted возвращает записи коллекции, новые первыми.
// Вызывается под блокировкой.
func (s *MemoryStore) sorted(collection string) []*memRecord {
	c := s.records[collection]
	out := make([]*memRecord, 0, len(c))
	for _, m := range c {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

func (s *MemoryStore) List(_ context.Context, collection string, limit, offset int) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted(collection)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))

	out := make([]*model.Record, 0, end-offset)
	for _, m := range all[offset:end] {
		out = append(out, m.rec.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[collection]), nil
}

func (s *MemoryStore) Create(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(rec.Collection)
	if _, exists := c[rec.ID]; exists {
		return fmt.Errorf("%w: id %s уже существует", ErrConflict, rec.ID)
	}
	if rec.Name != "" {
		key := collation.Key(rec.Name)
		if _, taken := s.names[rec.Collection][key]; taken {
			return fmt.Errorf("%w: %s %q уже существует", ErrConflict, rec.Collection, rec.Name)
		}
		s.names[rec.Collection][key] = rec.ID
	}

	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.seq++
	c[rec.ID] = &memRecord{rec: rec.Clone(), seq: s.seq}
	return nil
}

func (s *MemoryStore) UpdateByID(_ context.Context, collection, id string, patch *model.Patch, validate ValidateFunc) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[collection][id]
	if !ok {
		return nil, ErrNotFound
	}

	next := patch.Apply(m.rec)
	if validate != nil {
		if err := validate(next); err != nil {
			return nil, err
		}
	}

	oldKey, newKey := "", ""
	if m.rec.Name != "" {
		oldKey = collation.Key(m.rec.Name)
	}
	if next.Name != "" {
		newKey = collation.Key(next.Name)
	}
	if newKey != oldKey {
		if owner, taken := s.names[collection][newKey]; taken && newKey != "" && owner != id {
			return nil, fmt.Errorf("%w: %s %q уже существует", ErrConflict, collection, next.Name)
		}
		delete(s.names[collection], oldKey)
		if newKey != "" {
			s.names[collection][newKey] = id
		}
	}

	next.UpdatedAt = s.now()
	m.rec = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteByID(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteLocked(collection, id) {
		return ErrNotFound
	}
	return nil
}

// deleteLocked удаляет запись и её ключ уникальности. Вызывается под блокировкой.
func (s *MemoryStore) deleteLocked(collection, id string) bool {
	m, ok := s.records[collection][id]
	if !ok {
		return false
	}
	if m.rec.Name != "" {
		delete(s.names[collection], collation.Key(m.rec.Name))
	}
	delete(s.records[collection], id)
	return true
}

func (s *MemoryStore) DeleteMany(_ context.Context, collection, foreignKey, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, m := range s.records[collection] {
		switch v := m.rec.Fields[foreignKey].(type) {
		case string:
			if v == value {
				ids = append(ids, id)
			}
		case []string:
			if slices.Contains(v, value) {
				ids = append(ids, id)
			}
		}
	}
	for _, id := range ids {
		s.deleteLocked(collection, id)
	}
	return len(ids), nil
}
