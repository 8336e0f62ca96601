package livestore

import (
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// counterMerger sums int64 merge operands. A counter key may also hold a
// base value written by Set, as long as it is an integer.
var counterMerger = &pebble.Merger{
	Name: "tutor-realtime.counter.v1",
	Merge: func(key, value []byte) (pebble.ValueMerger, error) {
		n, err := parseCounter(value)
		if err != nil {
			return nil, errors.Wrapf(err, "merge %s", key)
		}
		return &counterValue{n: n}, nil
	},
}

type counterValue struct {
	n int64
}

func (c *counterValue) MergeNewer(value []byte) error {
	n, err := parseCounter(value)
	if err != nil {
		return err
	}
	c.n += n
	return nil
}

func (c *counterValue) MergeOlder(value []byte) error {
	return c.MergeNewer(value)
}

func (c *counterValue) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return strconv.AppendInt(nil, c.n, 10), nil, nil
}

func parseCounter(raw []byte) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "counter value %q", raw)
	}
	return n, nil
}

// Increment atomically adds delta to the counter at p and returns the
// value observed right after the write.
func (s *Store) Increment(p string, delta int64) (int64, error) {
	if err := s.ApplyDeltas(map[string]int64{p: delta}); err != nil {
		return 0, err
	}
	return s.Counter(p)
}

// ApplyDeltas adds every delta in one atomic batch. The store never reads
// the current value, so concurrent callers cannot lose updates.
func (s *Store) ApplyDeltas(deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	paths := make([]string, 0, len(deltas))
	for p, delta := range deltas {
		clean, err := cleanPath(p)
		if err != nil {
			return err
		}
		if err := batch.Merge([]byte(clean), strconv.AppendInt(nil, delta, 10), nil); err != nil {
			return errors.Wrapf(err, "merge %s", clean)
		}
		paths = append(paths, clean)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit deltas")
	}
	s.notify(paths)
	return nil
}

// Counter reads the counter at p; a missing counter is zero.
func (s *Store) Counter(p string) (int64, error) {
	v, err := s.Get(p)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, errors.Errorf("livestore: %s is not a counter", p)
	}
	return n, nil
}
