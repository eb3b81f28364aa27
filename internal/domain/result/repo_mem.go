package result

import (
	"context"
	"sync"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

// memRepo keeps results in process memory. Create and Update store a copy
// of the result with its own result set, so later writes to the caller's
// Data are not seen by readers. Readers share the stored set and must not
// modify it.
type memRepo struct {
	mu    sync.RWMutex
	data  map[string]resource.Result
	order []string
}

func NewMemRepo() Repository {
	return &memRepo{data: make(map[string]resource.Result)}
}

func (m *memRepo) Create(_ context.Context, r *resource.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[r.ID]; ok {
		return failure.Newf("result %s already exists", r.ID)
	}
	m.data[r.ID] = detach(r)
	m.order = append(m.order, r.ID)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*resource.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[id]
	if !ok {
		return nil, failure.NotFoundf("result %s not found", id)
	}
	return &r, nil
}

func (m *memRepo) Update(_ context.Context, r *resource.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[r.ID]; !ok {
		return failure.NotFoundf("result %s not found", r.ID)
	}
	m.data[r.ID] = detach(r)
	return nil
}

func detach(r *resource.Result) resource.Result {
	c := *r
	if r.Data != nil {
		c.Data = r.Data.Clone()
	}
	return c
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return failure.NotFoundf("result %s not found", id)
	}
	delete(m.data, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns results newest first.
func (m *memRepo) List(_ context.Context, limit, offset int) ([]*resource.Result, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.order)
	var out []*resource.Result
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		r := m.data[m.order[i]]
		out = append(out, &r)
	}
	return out, total, nil
}
