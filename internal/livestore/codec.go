package livestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock, in unix milliseconds, when
// the value holding it is written.
var ServerTimestamp any = serverTimestamp{}

// normalize converts arbitrary values into the tree representation:
// map[string]any for objects and JSON scalars or arrays for leaves.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, serverTimestamp, string, bool, json.Number,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val, nil
	case time.Time:
		return val.UnixMilli(), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if k == "" || strings.Contains(k, "/") {
				return nil, errors.Wrapf(ErrInvalidPath, "key %q", k)
			}
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode value")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "decode value")
	}
	if _, ok := generic.(map[string]any); ok {
		return normalize(generic)
	}
	return generic, nil
}

// flatten writes the leaves of v below p into out. nil values and empty
// objects produce no leaves.
func flatten(p string, v any, nowMillis int64, out map[string][]byte) error {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range val {
			if err := flatten(p+"/"+k, child, nowMillis, out); err != nil {
				return err
			}
		}
		return nil
	case serverTimestamp:
		out[p] = []byte(fmt.Sprintf("%d", nowMillis))
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode leaf %s", p)
	}
	out[p] = raw
	return nil
}

func decodeLeaf(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decode leaf")
	}
	return fromNumbers(v), nil
}

func fromNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = fromNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = fromNumbers(val[k])
		}
		return val
	}
	return v
}

func insertLeaf(root map[string]any, rel string, v any) {
	parts := strings.Split(rel, "/")
	node := root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = v
}
