package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/adimport/internal/input"
	"github.com/isometry/adimport/internal/logging"
)

// IdentityResolver resolves a directory identifier in any supported format
// to a distinguished name. An empty result with a nil error means no object
// carries the identifier.
type IdentityResolver interface {
	ResolveToDN(ctx context.Context, identifier string) (string, error)
}

// Skip records why a row was passed over without touching the directory.
// Matches carries the distinguished names found when the reason is an
// ambiguous match.
type Skip struct {
	Reason  string
	Matches []string
}

// Builder locates the directory object a row refers to and assembles the
// change request for it.
type Builder struct {
	querier   DirectoryQuerier
	resolver  IdentityResolver
	matchAttr string
	matchIdx  int
	log       logging.Logger
}

// NewBuilder creates a builder matching rows on matchAttr. matchIdx is the
// header position of the match column, or -1 when the input carries no such
// column. resolver may be nil, in which case ObjectID values are taken as
// literal distinguished names.
func NewBuilder(querier DirectoryQuerier, resolver IdentityResolver, matchAttr string, matchIdx int, log logging.Logger) *Builder {
	if log == nil {
		log = logging.Discard()
	}
	return &Builder{
		querier:   querier,
		resolver:  resolver,
		matchAttr: matchAttr,
		matchIdx:  matchIdx,
		log:       log,
	}
}

// Build assembles the change request for one classified, translated row.
// Rows creating new objects need no lookup. For existing objects the match
// column value is located in the directory; rows matching zero or several
// objects are skipped, not failed.
func (b *Builder) Build(ctx context.Context, class Classification, changes []AttributeChange, row *input.Row) (*ChangeRequest, *Skip, error) {
	if class.State == StateCreate {
		return &ChangeRequest{
			Kind:       OperationCreate,
			ObjectType: class.ObjectType,
			Changes:    changes,
			Line:       row.Line,
		}, nil, nil
	}

	matchValue := b.matchValue(row)
	if matchValue == "" {
		return nil, &Skip{Reason: fmt.Sprintf("no %s value to match on", b.matchAttr)}, nil
	}

	target, skip, err := b.locate(ctx, class.ObjectType, matchValue)
	if err != nil || skip != nil {
		return nil, skip, err
	}

	switch class.State {
	case StateDelete:
		return &ChangeRequest{
			Kind:       OperationDelete,
			ObjectType: class.ObjectType,
			TargetDN:   target,
			Line:       row.Line,
		}, nil, nil
	default:
		return &ChangeRequest{
			Kind:       OperationModify,
			ObjectType: class.ObjectType,
			TargetDN:   target,
			Changes:    changes,
			Line:       row.Line,
		}, nil, nil
	}
}

// matchValue extracts the match column value from the row.
func (b *Builder) matchValue(row *input.Row) string {
	if b.matchIdx < 0 || b.matchIdx >= len(row.Values) {
		return ""
	}
	return strings.TrimSpace(row.Values[b.matchIdx])
}

// locate finds the distinguished name of the object identified by the match
// value. ObjectID values name the object directly and bypass the search.
func (b *Builder) locate(ctx context.Context, objectType, matchValue string) (string, *Skip, error) {
	if strings.EqualFold(b.matchAttr, ObjectIDMatch) {
		if b.resolver == nil {
			return matchValue, nil, nil
		}
		dn, err := b.resolver.ResolveToDN(ctx, matchValue)
		if err != nil {
			return "", nil, err
		}
		if dn == "" {
			return "", &Skip{Reason: fmt.Sprintf("no object with identifier %q", matchValue)}, nil
		}
		return dn, nil, nil
	}

	ref := Reference{ObjectType: objectType, Attribute: b.matchAttr, Value: matchValue}
	matches, err := b.querier.Query(ctx, ref.PathFilter())
	if err != nil {
		return "", nil, err
	}

	switch len(matches) {
	case 0:
		return "", &Skip{Reason: fmt.Sprintf("no %s with %s %q", objectType, b.matchAttr, matchValue)}, nil
	case 1:
		return matches[0], nil, nil
	default:
		return "", &Skip{
			Reason:  fmt.Sprintf("%d objects match %s %q, refusing to guess", len(matches), b.matchAttr, matchValue),
			Matches: matches,
		}, nil
	}
}
