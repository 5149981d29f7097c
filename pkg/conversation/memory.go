package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store. Stored conversations are kept encoded so
// callers never share state with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	now  func() time.Time
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), now: time.Now}
}

func (m *Memory) Save(_ context.Context, c *Conversation) error {
	prepare(c, m.now)
	data, err := encode(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[c.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]Conversation, error) {
	m.mu.RLock()
	out := make([]Conversation, 0, len(m.data))
	for _, v := range m.data {
		c, err := decode(v)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		out = append(out, *c)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt.Time(), out[j].CreatedAt.Time()
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	v, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(v)
}

func (m *Memory) Close() error {
	return nil
}
