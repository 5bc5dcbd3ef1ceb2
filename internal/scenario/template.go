package scenario

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// player is a scenario participant with its minted token.
type player struct {
	id    int64
	token string
}

// expand replaces placeholders in s:
//   - {{players.<name>.id}} and {{players.<name>.token}}
//   - {{env.VARIABLE}} from the environment
//   - {{name}} from scenario variables and captures
func expand(s string, players map[string]player, vars map[string]string) (string, error) {
	var out strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}
		expr := strings.TrimSpace(rest[start+2 : start+end])
		value, err := resolve(expr, players, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(rest[:start])
		out.WriteString(value)
		rest = rest[start+end+2:]
	}
}

func resolve(expr string, players map[string]player, vars map[string]string) (string, error) {
	if name, ok := strings.CutPrefix(expr, "env."); ok {
		return os.Getenv(name), nil
	}

	if ref, ok := strings.CutPrefix(expr, "players."); ok {
		name, field, found := strings.Cut(ref, ".")
		p, known := players[name]
		if !found || !known {
			return "", fmt.Errorf("unknown player reference {{%s}}", expr)
		}
		switch field {
		case "id":
			return strconv.FormatInt(p.id, 10), nil
		case "token":
			return p.token, nil
		}
		return "", fmt.Errorf("{{%s}}: players expose id and token", expr)
	}

	if v, ok := vars[expr]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unresolved placeholder {{%s}}", expr)
}
