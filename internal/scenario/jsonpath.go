package scenario

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// pathStep is one hop of a JSONPath: an object key or an array index.
type pathStep struct {
	key   string
	index int
	isIdx bool
}

// parsePath compiles the dot and index subset of JSONPath used by
// scenarios: $, $.a.b, $.list[0].field, $[2].
func parsePath(path string) ([]pathStep, error) {
	rest, ok := strings.CutPrefix(path, "$")
	if !ok {
		return nil, fmt.Errorf("JSONPath must start with $: %q", path)
	}

	var steps []pathStep
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			n := strings.IndexAny(rest, ".[")
			if n < 0 {
				n = len(rest)
			}
			if n == 0 {
				return nil, fmt.Errorf("empty key in %q", path)
			}
			steps = append(steps, pathStep{key: rest[:n]})
			rest = rest[n:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed index in %q", path)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q in %q", rest[1:end], path)
			}
			steps = append(steps, pathStep{index: idx, isIdx: true})
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("unexpected %q in %q", rest[0], path)
		}
	}
	return steps, nil
}

// lookup walks doc along path. found is false when any hop is missing.
func lookup(doc any, path string) (value any, found bool, err error) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	cur := doc
	for _, s := range steps {
		if s.isIdx {
			arr, ok := cur.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false, nil
			}
			cur = arr[s.index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		if cur, ok = obj[s.key]; !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

// extract decodes body and returns the value at path.
func extract(body []byte, path string) (any, error) {
	doc, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	v, found, err := lookup(doc, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("JSONPath %q: no match", path)
	}
	return v, nil
}

func decodeBody(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("response body is not JSON: %w", err)
	}
	return doc, nil
}
