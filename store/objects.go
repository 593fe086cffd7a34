package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/internal/shm"
)

// object is one entry of the store.
type object struct {
	id      ObjectID
	path    string
	size    int64
	sealed  bool
	owner   uint64
	refs    int
	created time.Time
}

// objectTable holds every object with thread-safe operations.
//
// Sealed objects without references are kept in LRU order and evicted,
// oldest first, when a create needs room. Every seal closes and replaces
// the sealed channel, which wakes readers blocked in get.
type objectTable struct {
	dir      string
	capacity int64
	used     int64
	objects  map[ObjectID]*object
	idle     *simplelru.LRU[ObjectID, struct{}]
	sealed   chan struct{}
	events   func(Event)
	mu       sync.Mutex
}

func newObjectTable(dir string, capacity int64, events func(Event)) (*objectTable, error) {
	idle, err := simplelru.NewLRU[ObjectID, struct{}](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = func(Event) {}
	}
	return &objectTable{
		dir:      dir,
		capacity: capacity,
		objects:  make(map[ObjectID]*object),
		idle:     idle,
		sealed:   make(chan struct{}),
		events:   events,
	}, nil
}

func (t *objectTable) path(id ObjectID) string {
	return filepath.Join(t.dir, id.String())
}

// create allocates an unsealed object of exactly size bytes owned by session.
func (t *objectTable) create(session uint64, id ObjectID, size int64) (Buffer, error) {
	if size <= 0 {
		return Buffer{}, errs.Newf(errs.InvalidArgument, "object size must be positive, got %d", size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.objects[id]; exists {
		return Buffer{}, errs.Newf(errs.ObjectExists, "object %s already exists", id)
	}
	if t.capacity > 0 && size > t.capacity {
		return Buffer{}, errs.Newf(errs.StoreFull, "object of %d bytes exceeds capacity %d", size, t.capacity)
	}
	for t.capacity > 0 && t.used+size > t.capacity {
		if !t.evictOldestLocked() {
			return Buffer{}, errs.Newf(errs.StoreFull, "need %d bytes, %d of %d in use by live objects", size, t.used, t.capacity)
		}
	}

	path := t.path(id)
	if err := shm.Create(path, size, 0o600); err != nil {
		return Buffer{}, errs.Wrap(err, errs.IoError, "failed to allocate object")
	}

	t.objects[id] = &object{
		id:      id,
		path:    path,
		size:    size,
		owner:   session,
		created: time.Now(),
	}
	t.used += size
	t.events(Event{Kind: EventCreated, ID: id, Size: size})
	return Buffer{ID: id, Path: path, Size: size}, nil
}

// evictOldestLocked drops the least recently used idle object.
func (t *objectTable) evictOldestLocked() bool {
	id, _, ok := t.idle.RemoveOldest()
	if !ok {
		return false
	}
	obj := t.objects[id]
	t.removeLocked(obj)
	t.events(Event{Kind: EventEvicted, ID: id, Size: obj.size})
	return true
}

func (t *objectTable) removeLocked(obj *object) {
	delete(t.objects, obj.id)
	t.idle.Remove(obj.id)
	t.used -= obj.size
	_ = os.Remove(obj.path)
}

// seal publishes an object created by session.
func (t *objectTable) seal(session uint64, id ObjectID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return errs.Newf(errs.NotFound, "object %s not found", id)
	}
	if obj.sealed {
		return errs.Newf(errs.InvalidArgument, "object %s is already sealed", id)
	}
	if obj.owner != session {
		return errs.Newf(errs.InvalidArgument, "object %s was created by another client", id)
	}
	if err := os.Chmod(obj.path, 0o400); err != nil {
		return errs.Wrap(err, errs.IoError, "failed to seal object")
	}

	obj.sealed = true
	if obj.refs == 0 {
		t.idle.Add(id, struct{}{})
	}
	close(t.sealed)
	t.sealed = make(chan struct{})
	t.events(Event{Kind: EventSealed, ID: id, Size: obj.size})
	return nil
}

// abort discards an unsealed object created by session.
func (t *objectTable) abort(session uint64, id ObjectID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return errs.Newf(errs.NotFound, "object %s not found", id)
	}
	if obj.sealed {
		return errs.Newf(errs.InvalidArgument, "object %s is sealed", id)
	}
	if obj.owner != session {
		return errs.Newf(errs.InvalidArgument, "object %s was created by another client", id)
	}
	t.removeLocked(obj)
	t.events(Event{Kind: EventAborted, ID: id, Size: obj.size})
	return nil
}

// get waits until id is sealed, timeout elapses or ctx is done, and takes a
// reference on success. At the deadline an unknown id is NotFound and a
// known but unsealed one is Timeout.
func (t *objectTable) get(ctx context.Context, id ObjectID, timeout time.Duration) (Buffer, error) {
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mu.Lock()
		obj, ok := t.objects[id]
		if ok && obj.sealed {
			obj.refs++
			t.idle.Remove(id)
			t.mu.Unlock()
			return Buffer{ID: id, Path: obj.path, Size: obj.size}, nil
		}
		if timeout <= 0 {
			t.mu.Unlock()
			return Buffer{}, missing(id, ok)
		}
		wake := t.sealed
		t.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			t.mu.Lock()
			obj, ok := t.objects[id]
			if ok && obj.sealed {
				obj.refs++
				t.idle.Remove(id)
				t.mu.Unlock()
				return Buffer{ID: id, Path: obj.path, Size: obj.size}, nil
			}
			t.mu.Unlock()
			return Buffer{}, missing(id, ok)
		case <-ctx.Done():
			return Buffer{}, errs.Wrap(ctx.Err(), errs.ConnectionError, "store shutting down")
		}
	}
}

func missing(id ObjectID, exists bool) error {
	if exists {
		return errs.Newf(errs.Timeout, "object %s was not sealed in time", id)
	}
	return errs.Newf(errs.NotFound, "object %s not found", id)
}

// release drops one reference taken by get.
func (t *objectTable) release(id ObjectID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok || obj.refs == 0 {
		return errs.Newf(errs.NotAcquired, "object %s is not held", id)
	}
	obj.refs--
	if obj.refs == 0 && obj.sealed {
		t.idle.Add(id, struct{}{})
	}
	return nil
}

// remove deletes a sealed, unreferenced object.
func (t *objectTable) remove(id ObjectID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return errs.Newf(errs.NotFound, "object %s not found", id)
	}
	if !obj.sealed || obj.refs > 0 {
		return errs.Newf(errs.InvalidArgument, "object %s is in use", id)
	}
	t.removeLocked(obj)
	t.events(Event{Kind: EventDeleted, ID: id, Size: obj.size})
	return nil
}

// contains reports whether id is present and sealed.
func (t *objectTable) contains(id ObjectID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.objects[id]
	return ok && obj.sealed
}

// list returns every object ordered by creation time.
func (t *objectTable) list() []ObjectInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]ObjectInfo, 0, len(t.objects))
	for _, obj := range t.objects {
		infos = append(infos, ObjectInfo{
			ID:        obj.id,
			Size:      obj.size,
			Sealed:    obj.sealed,
			Refs:      obj.refs,
			CreatedAt: obj.created,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (t *objectTable) stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{Objects: len(t.objects), BytesUsed: t.used, Capacity: t.capacity}
	for _, obj := range t.objects {
		if obj.sealed {
			st.Sealed++
		}
	}
	return st
}

// purge deletes every object file.
func (t *objectTable) purge() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errList []error
	for _, obj := range t.objects {
		if err := os.Remove(obj.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errList = append(errList, err)
		}
	}
	t.objects = make(map[ObjectID]*object)
	t.idle.Purge()
	t.used = 0
	return errors.Join(errList...)
}
