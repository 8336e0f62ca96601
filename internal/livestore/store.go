package livestore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when nothing is stored at or below a path.
var ErrNotFound = errors.New("livestore: not found")

// Options configure Open.
type Options struct {
	// Path is the pebble directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   zerolog.Logger
	// Clock resolves ServerTimestamp values. Defaults to time.Now.
	Clock func() time.Time
}

// Store is a path addressed JSON tree kept in pebble. Each path segment is
// separated by '/', objects are stored as one key per leaf.
type Store struct {
	db  *pebble.DB
	log zerolog.Logger
	now func() time.Time

	watchMu   sync.RWMutex
	watchers  map[uint64]*watcher
	nextWatch uint64

	discMu       sync.Mutex
	onDisconnect map[string]any
}

// Child is one direct child of a path.
type Child struct {
	Key   string
	Value any
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	pOpts := &pebble.Options{Merger: counterMerger}
	dir := opts.Path
	if opts.InMemory {
		pOpts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, pOpts)
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:           db,
		log:          opts.Logger,
		now:          clock,
		watchers:     make(map[uint64]*watcher),
		onDisconnect: make(map[string]any),
	}, nil
}

// Close runs the pending on-disconnect writes, ends every subscription and
// closes pebble.
func (s *Store) Close() error {
	if err := s.Disconnect(); err != nil {
		s.log.Error().Err(err).Msg("apply on-disconnect writes")
	}
	s.closeWatchers()
	return s.db.Close()
}

// Get returns the value at p: a scalar for leaves, map[string]any for objects.
func (s *Store) Get(p string) (any, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return s.get(p)
}

func (s *Store) get(p string) (any, error) {
	raw, closer, err := s.db.Get([]byte(p))
	if err == nil {
		v, derr := decodeLeaf(raw)
		closer.Close()
		return v, derr
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(err, "get %s", p)
	}

	lower, upper := subtreeBounds(p)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrapf(err, "iterate %s", p)
	}
	defer iter.Close()

	root := map[string]any{}
	prefix := string(lower)
	for iter.First(); iter.Valid(); iter.Next() {
		v, err := decodeLeaf(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", iter.Key())
		}
		insertLeaf(root, strings.TrimPrefix(string(iter.Key()), prefix), v)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", p)
	}
	if len(root) == 0 {
		return nil, ErrNotFound
	}
	return root, nil
}

// GetMap returns the object stored at p.
func (s *Store) GetMap(p string) (map[string]any, error) {
	v, err := s.Get(p)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("livestore: %s is not an object", p)
	}
	return m, nil
}

// Children lists the direct children of p ordered by key. A missing path
// has no children.
func (s *Store) Children(p string) ([]Child, error) {
	v, err := s.Get(p)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Child, 0, len(keys))
	for _, k := range keys {
		out = append(out, Child{Key: k, Value: m[k]})
	}
	return out, nil
}

// Set replaces the whole subtree at p with value. A nil value removes it.
func (s *Store) Set(p string, value any) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	return s.write(map[string]any{p: value})
}

// Update merges partial into the object at p. Every key of partial replaces
// the matching child (keys may be relative paths like "a/b"); other children
// are untouched. Concurrent updates resolve last-write-wins per child.
func (s *Store) Update(p string, partial map[string]any) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	writes := make(map[string]any, len(partial))
	for k, v := range partial {
		child, err := cleanPath(p + "/" + k)
		if err != nil {
			return err
		}
		writes[child] = v
	}
	for a := range writes {
		for b := range writes {
			if a != b && strings.HasPrefix(b, a+"/") {
				return errors.Wrapf(ErrInvalidPath, "overlapping update paths %q and %q", a, b)
			}
		}
	}
	return s.write(writes)
}

// Remove deletes the subtree at p.
func (s *Store) Remove(p string) error {
	return s.Set(p, nil)
}

// write applies every path -> value replacement in one atomic batch.
func (s *Store) write(writes map[string]any) error {
	if len(writes) == 0 {
		return nil
	}
	nowMillis := s.now().UnixMilli()
	batch := s.db.NewBatch()
	defer batch.Close()

	paths := make([]string, 0, len(writes))
	for p, v := range writes {
		norm, err := normalize(v)
		if err != nil {
			return errors.Wrapf(err, "write %s", p)
		}
		leaves := map[string][]byte{}
		if err := flatten(p, norm, nowMillis, leaves); err != nil {
			return err
		}
		if err := s.clear(batch, p); err != nil {
			return err
		}
		for k, raw := range leaves {
			if err := batch.Set([]byte(k), raw, nil); err != nil {
				return errors.Wrapf(err, "set %s", k)
			}
		}
		paths = append(paths, p)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit")
	}
	s.notify(paths)
	return nil
}

// clear removes p, its subtree, and any ancestor stored as a leaf.
func (s *Store) clear(batch *pebble.Batch, p string) error {
	lower, upper := subtreeBounds(p)
	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return errors.Wrapf(err, "clear %s", p)
	}
	if err := batch.Delete([]byte(p), nil); err != nil {
		return errors.Wrapf(err, "clear %s", p)
	}
	for _, a := range ancestors(p) {
		if err := batch.Delete([]byte(a), nil); err != nil {
			return errors.Wrapf(err, "clear %s", a)
		}
	}
	return nil
}
