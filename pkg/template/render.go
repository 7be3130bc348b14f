// Package template implements the strict substitution renderer used for
// query templates, manifest globals, and resource props.
//
// Supported syntax is deliberately small: `{{ name }}` interpolation with
// dotted and indexed access into nested values (`{{ tags.env }}`,
// `{{ subnets.0 }}`, `{{ subnets[1] }}`) and an optional default applied when
// the name cannot be resolved (`{{ region | default('us-east-1') }}`). There
// is no conditional or loop logic.
//
// Rendering is pure: the same template and scope always produce byte-identical
// output. An unresolved reference is an error, never an empty substitution —
// resources must not silently depend on exports that are not yet in scope.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deployql/deployql/pkg/vars"
)

// Lookup resolves a top-level variable name. *vars.Scope and *vars.Context
// both satisfy it.
type Lookup interface {
	Get(name string) (vars.Value, bool)
}

// MissingVariableError reports a reference to a name absent from the scope.
type MissingVariableError struct {
	// Name is the full dotted path that failed to resolve.
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template: variable %q not found in context", e.Name)
}

// SyntaxError reports a structurally malformed placeholder.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template: syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Render substitutes every placeholder in text using the given scope.
func Render(text string, scope Lookup) (string, error) {
	var sb strings.Builder
	rest := text
	offset := 0

	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		sb.WriteString(rest[:open])

		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			return "", &SyntaxError{Offset: offset + open, Msg: "unterminated placeholder"}
		}
		expr := rest[open+2 : open+end]

		out, err := evalExpr(strings.TrimSpace(expr), scope, offset+open)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)

		consumed := open + end + 2
		offset += consumed
		rest = rest[consumed:]
	}
}

// evalExpr evaluates `path` or `path | default(<literal>)`.
func evalExpr(expr string, scope Lookup, offset int) (string, error) {
	if expr == "" {
		return "", &SyntaxError{Offset: offset, Msg: "empty placeholder"}
	}

	pathPart := expr
	var fallback *string
	if pipe := strings.Index(expr, "|"); pipe >= 0 {
		pathPart = strings.TrimSpace(expr[:pipe])
		filter := strings.TrimSpace(expr[pipe+1:])
		lit, err := parseDefaultFilter(filter, offset)
		if err != nil {
			return "", err
		}
		fallback = &lit
	}

	segs, err := parsePath(pathPart, offset)
	if err != nil {
		return "", err
	}

	v, ok := resolvePath(segs, scope)
	if !ok {
		if fallback != nil {
			return *fallback, nil
		}
		return "", &MissingVariableError{Name: pathPart}
	}
	return v.Text(), nil
}

// parseDefaultFilter accepts `default('literal')`, `default("literal")`, or a
// bare unquoted token such as `default(8080)`.
func parseDefaultFilter(filter string, offset int) (string, error) {
	const name = "default"
	if !strings.HasPrefix(filter, name) {
		return "", &SyntaxError{Offset: offset, Msg: fmt.Sprintf("unknown filter %q", filter)}
	}
	arg := strings.TrimSpace(strings.TrimPrefix(filter, name))
	if len(arg) < 2 || arg[0] != '(' || arg[len(arg)-1] != ')' {
		return "", &SyntaxError{Offset: offset, Msg: "malformed default filter"}
	}
	arg = strings.TrimSpace(arg[1 : len(arg)-1])
	if len(arg) >= 2 && (arg[0] == '\'' || arg[0] == '"') {
		if arg[len(arg)-1] != arg[0] {
			return "", &SyntaxError{Offset: offset, Msg: "unterminated default literal"}
		}
		return arg[1 : len(arg)-1], nil
	}
	return arg, nil
}

// pathSeg is one step of a dotted/indexed access path.
type pathSeg struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string, offset int) ([]pathSeg, error) {
	if path == "" {
		return nil, &SyntaxError{Offset: offset, Msg: "empty variable path"}
	}
	var segs []pathSeg
	rest := path
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if rest == "" {
				return nil, &SyntaxError{Offset: offset, Msg: "trailing dot in variable path"}
			}
		case '[':
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return nil, &SyntaxError{Offset: offset, Msg: "unterminated index in variable path"}
			}
			idx, err := strconv.Atoi(rest[1:closing])
			if err != nil {
				return nil, &SyntaxError{Offset: offset, Msg: "non-numeric index in variable path"}
			}
			segs = append(segs, pathSeg{index: idx, isIdx: true})
			rest = rest[closing+1:]
			continue
		}

		end := len(rest)
		for i := 0; i < len(rest); i++ {
			if rest[i] == '.' || rest[i] == '[' {
				end = i
				break
			}
		}
		tok := rest[:end]
		if tok == "" {
			return nil, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("malformed variable path %q", path)}
		}
		if idx, err := strconv.Atoi(tok); err == nil && len(segs) > 0 {
			segs = append(segs, pathSeg{index: idx, isIdx: true})
		} else {
			if !validIdent(tok) {
				return nil, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("invalid identifier %q", tok)}
			}
			segs = append(segs, pathSeg{key: tok})
		}
		rest = rest[end:]
	}
	return segs, nil
}

func resolvePath(segs []pathSeg, scope Lookup) (vars.Value, bool) {
	if len(segs) == 0 || segs[0].isIdx {
		return vars.Null(), false
	}
	v, ok := scope.Get(segs[0].key)
	if !ok {
		return vars.Null(), false
	}
	for _, seg := range segs[1:] {
		if seg.isIdx {
			v, ok = v.At(seg.index)
		} else {
			v, ok = v.Index(seg.key)
		}
		if !ok {
			return vars.Null(), false
		}
	}
	return v, true
}

func validIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > 0
}
