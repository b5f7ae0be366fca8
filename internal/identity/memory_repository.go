package identity

import (
	"context"
	"sync"
	"time"
)

// memoryRepository keeps identities in process. Row locks are emulated with one
// mutex per phone hash; writes outside WithLock also take the row lock so they
// queue behind an open lock the way a Postgres UPDATE would.
type memoryRepository struct {
	mu     sync.Mutex
	byID   map[string]Identity
	byHash map[string]string
	rows   map[string]*sync.Mutex
	now    func() time.Time
}

// NewMemoryRepository builds an in-memory identity store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:   make(map[string]Identity),
		byHash: make(map[string]string),
		rows:   make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (r *memoryRepository) rowLock(hash string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[hash]
	if !ok {
		l = &sync.Mutex{}
		r.rows[hash] = l
	}
	return l
}

func (r *memoryRepository) Create(_ context.Context, ident Identity) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[ident.PhoneHash]; exists {
		return Identity{}, ErrDuplicate
	}
	r.byID[ident.ID] = ident
	r.byHash[ident.PhoneHash] = ident.ID
	return ident, nil
}

func (r *memoryRepository) FindByHash(_ context.Context, hash string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[hash]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok || !ident.Active {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (r *memoryRepository) Update(ctx context.Context, id string, patch Patch) error {
	r.mu.Lock()
	ident, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	l := r.rowLock(ident.PhoneHash)
	l.Lock()
	defer l.Unlock()
	return r.apply(id, patch)
}

func (r *memoryRepository) apply(id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.byID[id] = patch.Apply(ident, r.now().UTC())
	return nil
}

func (r *memoryRepository) WithLock(ctx context.Context, hash string, fn LockFunc) error {
	l := r.rowLock(hash)
	l.Lock()
	defer l.Unlock()

	var current *Identity
	r.mu.Lock()
	if id, ok := r.byHash[hash]; ok {
		if ident := r.byID[id]; ident.Active {
			current = &ident
		}
	}
	r.mu.Unlock()

	tx := &memoryTx{pending: make(map[string][]Patch)}
	if err := fn(ctx, current, tx); err != nil {
		return err
	}
	for _, id := range tx.order {
		for _, p := range tx.pending[id] {
			if err := r.apply(id, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *memoryRepository) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ident := range r.byID {
		if ident.Code != nil && ident.Code.Expired(now) {
			r.byID[id] = Patch{ClearCode: true}.Apply(ident, r.now().UTC())
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) Deactivate(ctx context.Context, id string) error {
	inactive := false
	return r.Update(ctx, id, Patch{Active: &inactive})
}

func (r *memoryRepository) Ping(context.Context) error { return nil }

// memoryTx stages updates until the lock callback returns without error.
type memoryTx struct {
	pending map[string][]Patch
	order   []string
}

func (t *memoryTx) Update(_ context.Context, id string, patch Patch) error {
	if _, seen := t.pending[id]; !seen {
		t.order = append(t.order, id)
	}
	t.pending[id] = append(t.pending[id], patch)
	return nil
}
