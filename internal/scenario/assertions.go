package scenario

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
)

// approxTolerance bounds "approx" comparisons of regenerated energy and
// other float results.
const approxTolerance = 1e-6

// check evaluates a step's assertions against its response.
func check(a *Assert, resp *http.Response, body []byte) error {
	if a.Status != 0 && resp.StatusCode != a.Status {
		return fmt.Errorf("expected status %d, got %d: %s", a.Status, resp.StatusCode, truncate(body))
	}
	if a.BodyContains != "" && !strings.Contains(string(body), a.BodyContains) {
		return fmt.Errorf("body does not contain %q", a.BodyContains)
	}
	for key, want := range a.Headers {
		if got := resp.Header.Get(key); got != want {
			return fmt.Errorf("header %q: expected %q, got %q", key, want, got)
		}
	}
	if len(a.Body) == 0 {
		return nil
	}

	doc, err := decodeBody(body)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(a.Body))
	for p := range a.Body {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if err := checkPath(doc, p, a.Body[p]); err != nil {
			return err
		}
	}
	return nil
}

// checkPath applies one body assertion. A map value holds operators;
// anything else is an equality check.
func checkPath(doc any, path string, want any) error {
	got, found, err := lookup(doc, path)
	if err != nil {
		return err
	}
	ops, isOps := want.(map[string]any)
	if !isOps {
		if !found {
			return fmt.Errorf("%s: no match", path)
		}
		if !equal(got, want) {
			return fmt.Errorf("%s: expected %v, got %v", path, want, got)
		}
		return nil
	}

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	slices.Sort(names)
	for _, op := range names {
		if err := apply(path, op, got, found, ops[op]); err != nil {
			return err
		}
	}
	return nil
}

func apply(path, op string, got any, found bool, arg any) error {
	if op == "exists" {
		want, ok := arg.(bool)
		if !ok {
			return fmt.Errorf("%s: exists takes a boolean", path)
		}
		if want != found {
			return fmt.Errorf("%s: expected exists=%v", path, want)
		}
		return nil
	}
	if !found {
		return fmt.Errorf("%s: no match for %s", path, op)
	}

	switch op {
	case "eq":
		if !equal(got, arg) {
			return fmt.Errorf("%s: expected %v, got %v", path, arg, got)
		}
	case "ne":
		if equal(got, arg) {
			return fmt.Errorf("%s: expected anything but %v", path, arg)
		}
	case "contains":
		if !strings.Contains(fmt.Sprint(got), fmt.Sprint(arg)) {
			return fmt.Errorf("%s: %q does not contain %q", path, fmt.Sprint(got), fmt.Sprint(arg))
		}
	case "len":
		n, ok := lengthOf(got)
		want, wok := number(arg)
		if !ok || !wok {
			return fmt.Errorf("%s: len needs an array or string and a number", path)
		}
		if float64(n) != want {
			return fmt.Errorf("%s: expected length %v, got %d", path, want, n)
		}
	case "gt", "gte", "lt", "lte", "approx":
		a, aok := number(got)
		b, bok := number(arg)
		if !aok || !bok {
			return fmt.Errorf("%s: %s needs numbers, got %v and %v", path, op, got, arg)
		}
		if !compare(op, a, b) {
			return fmt.Errorf("%s: expected %s %v, got %v", path, op, b, a)
		}
	default:
		return fmt.Errorf("%s: unknown operator %q", path, op)
	}
	return nil
}

func compare(op string, a, b float64) bool {
	switch op {
	case "gt":
		return a > b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "lte":
		return a <= b
	}
	return math.Abs(a-b) <= approxTolerance
}

// equal compares numbers numerically and everything else by its printed
// form. A number never equals a string.
func equal(got, want any) bool {
	a, aok := number(got)
	b, bok := number(want)
	if aok || bok {
		return aok && bok && a == b
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func lengthOf(v any) (int, bool) {
	switch x := v.(type) {
	case []any:
		return len(x), true
	case string:
		return len(x), true
	case nil:
		return 0, true
	}
	return 0, false
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
