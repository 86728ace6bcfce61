package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/adimport/internal/input"
	"github.com/isometry/adimport/internal/logging"
	"github.com/isometry/adimport/internal/schema"
)

// EmptyValuePolicy controls what an empty field value means.
type EmptyValuePolicy uint8

const (
	// EmptyOmit skips empty values entirely.
	EmptyOmit EmptyValuePolicy = iota
	// EmptyClear turns an empty value into a removal of the attribute on
	// modify rows. Creates always omit empty values.
	EmptyClear
)

// ParseEmptyValuePolicy parses a policy name.
func ParseEmptyValuePolicy(value string) (EmptyValuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "omit":
		return EmptyOmit, nil
	case "clear":
		return EmptyClear, nil
	default:
		return EmptyOmit, fmt.Errorf("unknown empty value policy %q, expected omit or clear", value)
	}
}

// ReferenceFailurePolicy controls how a zero-or-many reference resolution
// failure during translation is handled.
type ReferenceFailurePolicy uint8

const (
	// ReferenceAbort fails the whole run.
	ReferenceAbort ReferenceFailurePolicy = iota
	// ReferenceSkip skips the row and continues.
	ReferenceSkip
)

// ParseReferenceFailurePolicy parses a policy name.
func ParseReferenceFailurePolicy(value string) (ReferenceFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "abort":
		return ReferenceAbort, nil
	case "skip":
		return ReferenceSkip, nil
	default:
		return ReferenceAbort, fmt.Errorf("unknown reference failure policy %q, expected abort or skip", value)
	}
}

// Translator converts a row's named fields into typed attribute changes
// using the object type's schema and the reference resolver.
type Translator struct {
	resolver     *ReferenceResolver
	multiDelim   rune
	refDelim     rune
	emptyValues  EmptyValuePolicy
	ignoreColumn string // column consumed elsewhere, never translated
	log          logging.Logger
}

// NewTranslator creates a translator. ignoreColumn names a header column
// the translator must pass over, used for the ObjectID match column which
// carries directory identifiers rather than attribute values.
func NewTranslator(resolver *ReferenceResolver, multiDelim, refDelim rune, emptyValues EmptyValuePolicy, ignoreColumn string, log logging.Logger) *Translator {
	if log == nil {
		log = logging.Discard()
	}
	return &Translator{
		resolver:     resolver,
		multiDelim:   multiDelim,
		refDelim:     refDelim,
		emptyValues:  emptyValues,
		ignoreColumn: ignoreColumn,
		log:          log,
	}
}

// Translate converts one row into an ordered sequence of attribute changes.
// Fields are processed in row order; duplicate values are not deduplicated.
// Reference-typed values must parse as reference expressions and resolve to
// exactly one object.
func (t *Translator) Translate(ctx context.Context, sch *schema.ObjectSchema, class Classification, header []string, row *input.Row) ([]AttributeChange, error) {
	var changes []AttributeChange

	for i, column := range header {
		if IsReservedHeader(column) || (t.ignoreColumn != "" && strings.EqualFold(column, t.ignoreColumn)) {
			continue
		}
		if i >= len(row.Values) {
			break
		}

		value := row.Values[i]
		if value == "" {
			if t.emptyValues == EmptyClear && class.State == StatePut {
				descriptor, ok := sch.Attribute(column)
				if !ok {
					return nil, &UnknownAttributeError{ObjectType: class.ObjectType, Attribute: column, Line: row.Line}
				}
				changes = append(changes, AttributeChange{
					Name:      descriptor.Name,
					Operation: OpRemove,
					Value:     "",
					Resolved:  true,
				})
			}
			continue
		}

		descriptor, ok := sch.Attribute(column)
		if !ok {
			return nil, &UnknownAttributeError{ObjectType: class.ObjectType, Attribute: column, Line: row.Line}
		}

		fieldChanges, err := t.translateField(ctx, descriptor, class, value, row.Line)
		if err != nil {
			return nil, err
		}
		changes = append(changes, fieldChanges...)
	}

	return changes, nil
}

// translateField emits the changes for one non-empty field value, dispatching
// on the attribute's kind.
func (t *Translator) translateField(ctx context.Context, descriptor *schema.AttributeDescriptor, class Classification, value string, line int) ([]AttributeChange, error) {
	switch descriptor.Kind {
	case schema.KindScalarSimple:
		return []AttributeChange{{
			Name:      descriptor.Name,
			Operation: OpSet,
			Value:     value,
			Resolved:  true,
		}}, nil

	case schema.KindScalarReference:
		target, err := t.resolveValue(ctx, value, line)
		if err != nil {
			return nil, err
		}
		return []AttributeChange{{
			Name:      descriptor.Name,
			Operation: OpSet,
			Value:     target,
			Resolved:  true,
		}}, nil

	case schema.KindMultiSimple:
		var changes []AttributeChange
		for _, piece := range t.splitMulti(value) {
			changes = append(changes, AttributeChange{
				Name:      descriptor.Name,
				Operation: t.multiOperation(class),
				Value:     piece,
				Resolved:  true,
			})
		}
		return changes, nil

	case schema.KindMultiReference:
		var changes []AttributeChange
		for _, piece := range t.splitMulti(value) {
			target, err := t.resolveValue(ctx, piece, line)
			if err != nil {
				return nil, err
			}
			changes = append(changes, AttributeChange{
				Name:      descriptor.Name,
				Operation: t.multiOperation(class),
				Value:     target,
				Resolved:  true,
			})
		}
		return changes, nil

	default:
		return nil, fmt.Errorf("line %d: attribute %q has unsupported kind %s", line, descriptor.Name, descriptor.Kind)
	}
}

// resolveValue parses a reference expression and resolves it to an object
// identifier.
func (t *Translator) resolveValue(ctx context.Context, value string, line int) (string, error) {
	ref, err := ParseReference(value, t.refDelim)
	if err != nil {
		return "", &MalformedReferenceError{Expression: value, Line: line}
	}

	target, err := t.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return target, nil
}

// splitMulti splits a multi-valued field on the multi-value delimiter,
// dropping empty pieces.
func (t *Translator) splitMulti(value string) []string {
	parts := strings.Split(value, string(t.multiDelim))
	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// multiOperation returns the value operation for multi-valued pieces. Rows
// creating a new object always add values, existing objects take the row's
// classified operation.
func (t *Translator) multiOperation(class Classification) ValueOperation {
	if class.State == StateCreate {
		return OpAdd
	}
	return class.Operation
}
