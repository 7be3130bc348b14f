// Package queries parses resource query-definition text into a typed set of
// named, attributed operation anchors.
//
// A query file contains one or more blocks, each introduced by a marker line
// of the form:
//
//	/*+ create, retries=3, retry_delay=5 */
//	INSERT INTO ...
//
// The text between one marker and the next (or end of input) is that anchor's
// query template. Parsing happens once at load time; the reconciliation
// engine works only with the typed AnchorSet.
package queries

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies an anchor's role in the resource lifecycle.
type Kind string

const (
	KindExists         Kind = "exists"
	KindCreate         Kind = "create"
	KindUpdate         Kind = "update"
	KindCreateOrUpdate Kind = "createorupdate"
	KindStateCheck     Kind = "statecheck"
	KindExports        Kind = "exports"
	KindDelete         Kind = "delete"
)

// Legacy anchor keywords accepted as aliases for current kinds.
var aliases = map[string]Kind{
	"preflight":  KindExists,
	"postdeploy": KindStateCheck,
}

var knownKinds = map[string]Kind{
	string(KindExists):         KindExists,
	string(KindCreate):         KindCreate,
	string(KindUpdate):         KindUpdate,
	string(KindCreateOrUpdate): KindCreateOrUpdate,
	string(KindStateCheck):     KindStateCheck,
	string(KindExports):        KindExports,
	string(KindDelete):         KindDelete,
}

// Default attribute values, matching the policy of the reconciliation engine:
// one verification attempt with no delay, ten post-delete confirmation
// attempts five seconds apart.
const (
	DefaultRetries              = 1
	DefaultRetryDelaySec        = 0
	DefaultPostDeleteRetries    = 10
	DefaultPostDeleteRetryDelay = 5
)

// Attrs are the recognized anchor attributes. Delays are in seconds, as
// written in the marker.
type Attrs struct {
	Retries              int
	RetryDelaySec        int
	PostDeleteRetries    int
	PostDeleteRetryDelay int
}

// DefaultAttrs returns the attribute defaults applied when a marker omits
// them.
func DefaultAttrs() Attrs {
	return Attrs{
		Retries:              DefaultRetries,
		RetryDelaySec:        DefaultRetryDelaySec,
		PostDeleteRetries:    DefaultPostDeleteRetries,
		PostDeleteRetryDelay: DefaultPostDeleteRetryDelay,
	}
}

// RetryDelay returns the inter-attempt delay as a duration.
func (a Attrs) RetryDelay() time.Duration {
	return time.Duration(a.RetryDelaySec) * time.Second
}

// PostDeleteDelay returns the post-delete confirmation delay as a duration.
func (a Attrs) PostDeleteDelay() time.Duration {
	return time.Duration(a.PostDeleteRetryDelay) * time.Second
}

// AnchorDef is one parsed anchor: a query template plus its attributes.
type AnchorDef struct {
	Kind     Kind
	Template string
	Attrs    Attrs
}

// AnchorSet maps anchor kinds to their definitions for one resource.
type AnchorSet map[Kind]AnchorDef

// Get returns the definition for a kind.
func (s AnchorSet) Get(kind Kind) (AnchorDef, bool) {
	def, ok := s[kind]
	return def, ok
}

// Has reports whether the set defines the given kind.
func (s AnchorSet) Has(kind Kind) bool {
	_, ok := s[kind]
	return ok
}

// DuplicatePolicy controls how a repeated anchor kind within one resource is
// handled. The observed legacy behavior is ambiguous, so the policy is
// configurable; FirstWins is the default.
type DuplicatePolicy string

const (
	FirstWins DuplicatePolicy = "first-wins"
	LastWins  DuplicatePolicy = "last-wins"
	Reject    DuplicatePolicy = "reject"
)

// ParseError reports structurally malformed marker syntax.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("queries: line %d: %s", e.Line, e.Msg)
}

// Parse parses raw query-definition text with the FirstWins duplicate policy.
func Parse(raw string) (AnchorSet, error) {
	return ParseWithPolicy(raw, FirstWins)
}

// ParseWithPolicy parses raw query-definition text. Unknown anchor keywords
// are skipped for forward compatibility; their blocks are discarded. A
// ParseError is returned only for malformed marker syntax: an unterminated
// marker or an unparsable attribute.
func ParseWithPolicy(raw string, policy DuplicatePolicy) (AnchorSet, error) {
	set := make(AnchorSet)

	var current *AnchorDef
	var body []string

	flush := func() error {
		if current == nil {
			return nil
		}
		current.Template = strings.TrimSpace(strings.Join(body, "\n"))
		if _, dup := set[current.Kind]; dup {
			switch policy {
			case Reject:
				return fmt.Errorf("queries: duplicate %q anchor", current.Kind)
			case LastWins:
				set[current.Kind] = *current
			}
			// FirstWins: keep the existing definition.
		} else {
			set[current.Kind] = *current
		}
		current = nil
		body = nil
		return nil
	}

	for i, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "/*+") {
			if current != nil {
				body = append(body, line)
			}
			continue
		}

		end := strings.Index(trimmed, "*/")
		if end < 0 {
			return nil, &ParseError{Line: i + 1, Msg: "unterminated anchor marker"}
		}
		if err := flush(); err != nil {
			return nil, err
		}

		kind, attrs, err := parseMarker(trimmed[3:end], i+1)
		if err != nil {
			return nil, err
		}
		if kind == "" {
			// Unknown keyword: skip the block.
			continue
		}
		current = &AnchorDef{Kind: kind, Attrs: attrs}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return set, nil
}

// parseMarker parses the inside of a marker: `kind[, key=value]*`. An empty
// kind return means the keyword is unknown and the block should be skipped.
func parseMarker(inner string, line int) (Kind, Attrs, error) {
	parts := strings.Split(inner, ",")
	keyword := strings.ToLower(strings.TrimSpace(parts[0]))

	attrs := DefaultAttrs()

	kind, ok := knownKinds[keyword]
	if !ok {
		if alias, isAlias := aliases[keyword]; isAlias {
			kind = alias
		} else {
			return "", attrs, nil
		}
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, found := strings.Cut(part, "=")
		if !found {
			return "", attrs, &ParseError{Line: line, Msg: fmt.Sprintf("unparsable attribute %q", part)}
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		n, err := strconv.Atoi(val)
		switch key {
		case "retries", "retry_delay", "postdelete_retries", "postdelete_retry_delay":
			if err != nil || n < 0 {
				return "", attrs, &ParseError{Line: line, Msg: fmt.Sprintf("attribute %s: invalid value %q", key, val)}
			}
		default:
			// Unknown attribute keys are ignored for forward compatibility.
			continue
		}

		switch key {
		case "retries":
			attrs.Retries = n
		case "retry_delay":
			attrs.RetryDelaySec = n
		case "postdelete_retries":
			attrs.PostDeleteRetries = n
		case "postdelete_retry_delay":
			attrs.PostDeleteRetryDelay = n
		}
	}

	return kind, attrs, nil
}
