package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/adimport/internal/logging"
)

// Reference is a parsed reference expression naming another directory
// object by one of its attribute values.
type Reference struct {
	ObjectType string
	Attribute  string
	Value      string
}

// String renders the reference in its canonical input form.
func (r Reference) String() string {
	return fmt.Sprintf("(%s|%s|%s)", r.ObjectType, r.Attribute, r.Value)
}

// PathFilter renders the reference as a directory path filter,
// /Type[Attribute='Value'], with single quotes in the value doubled.
func (r Reference) PathFilter() string {
	return fmt.Sprintf("/%s[%s='%s']", r.ObjectType, r.Attribute, strings.ReplaceAll(r.Value, "'", "''"))
}

// ParseReference parses a reference expression of the shape
// (ObjectType<delim>AttributeName<delim>AttributeValue). Exactly three
// components are required; any deviation is a MalformedReferenceError.
func ParseReference(raw string, delimiter rune) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 2 || !strings.HasPrefix(trimmed, "(") || !strings.HasSuffix(trimmed, ")") {
		return Reference{}, &MalformedReferenceError{Expression: raw}
	}

	parts := strings.Split(trimmed[1:len(trimmed)-1], string(delimiter))
	if len(parts) != 3 {
		return Reference{}, &MalformedReferenceError{Expression: raw}
	}

	ref := Reference{
		ObjectType: strings.TrimSpace(parts[0]),
		Attribute:  strings.TrimSpace(parts[1]),
		Value:      parts[2],
	}
	if ref.ObjectType == "" || ref.Attribute == "" {
		return Reference{}, &MalformedReferenceError{Expression: raw}
	}

	return ref, nil
}

// DirectoryQuerier evaluates a path filter against the directory and
// returns the identifiers of matching objects.
type DirectoryQuerier interface {
	Query(ctx context.Context, pathFilter string) ([]string, error)
}

// ReferenceResolver resolves reference expressions to exactly one existing
// directory object identifier.
type ReferenceResolver struct {
	querier DirectoryQuerier
	log     logging.Logger
}

// NewReferenceResolver creates a reference resolver.
func NewReferenceResolver(querier DirectoryQuerier, log logging.Logger) *ReferenceResolver {
	if log == nil {
		log = logging.Discard()
	}
	return &ReferenceResolver{querier: querier, log: log}
}

// Resolve queries the directory for objects matching the reference.
// Zero matches fail with ReferenceNotFoundError, more than one with
// AmbiguousReferenceError.
func (r *ReferenceResolver) Resolve(ctx context.Context, ref Reference) (string, error) {
	matches, err := r.querier.Query(ctx, ref.PathFilter())
	if err != nil {
		return "", fmt.Errorf("reference query %s failed: %w", ref, err)
	}

	switch len(matches) {
	case 0:
		return "", &ReferenceNotFoundError{Reference: ref}
	case 1:
		r.log.Trace("Resolved reference", map[string]any{
			"reference": ref.String(),
			"target":    matches[0],
		})
		return matches[0], nil
	default:
		return "", &AmbiguousReferenceError{Reference: ref, Matches: len(matches)}
	}
}
