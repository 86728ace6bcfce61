package engine

import (
	"errors"
	"fmt"
)

// UnknownStateError reports a state value outside {Create, Put, Delete}.
type UnknownStateError struct {
	Value string
	Line  int
}

func (e *UnknownStateError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: unknown state %q, expected Create, Put or Delete", e.Line, e.Value)
	}
	return fmt.Sprintf("unknown state %q, expected Create, Put or Delete", e.Value)
}

// UnknownOperationError reports a multi-value operation outside
// {Add, Replace, Delete}.
type UnknownOperationError struct {
	Value string
	Line  int
}

func (e *UnknownOperationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: unknown operation %q, expected Add, Replace or Delete", e.Line, e.Value)
	}
	return fmt.Sprintf("unknown operation %q, expected Add, Replace or Delete", e.Value)
}

// UnknownAttributeError reports a row field naming an attribute the object
// type's schema does not define.
type UnknownAttributeError struct {
	ObjectType string
	Attribute  string
	Line       int
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("line %d: attribute %q is not defined for object type %q", e.Line, e.Attribute, e.ObjectType)
}

// UnknownHeaderAttributeError reports a header column the default object
// type's schema does not define. Raised before any row is processed.
type UnknownHeaderAttributeError struct {
	ObjectType string
	Attribute  string
}

func (e *UnknownHeaderAttributeError) Error() string {
	return fmt.Sprintf("header column %q is not defined for object type %q", e.Attribute, e.ObjectType)
}

// MissingMatchAttributeError reports that the configured match attribute is
// not a column of the input file.
type MissingMatchAttributeError struct {
	Attribute string
}

func (e *MissingMatchAttributeError) Error() string {
	return fmt.Sprintf("match attribute %q is not a column of the input file", e.Attribute)
}

// MalformedReferenceError reports a reference-typed field value that does
// not have the (ObjectType|AttributeName|AttributeValue) shape.
type MalformedReferenceError struct {
	Expression string
	Line       int
}

func (e *MalformedReferenceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: malformed reference expression %q, expected (ObjectType|AttributeName|AttributeValue)", e.Line, e.Expression)
	}
	return fmt.Sprintf("malformed reference expression %q, expected (ObjectType|AttributeName|AttributeValue)", e.Expression)
}

// ReferenceNotFoundError reports a reference that matched no directory
// object.
type ReferenceNotFoundError struct {
	Reference Reference
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("reference %s matched no object", e.Reference)
}

// AmbiguousReferenceError reports a reference that matched more than one
// directory object.
type AmbiguousReferenceError struct {
	Reference Reference
	Matches   int
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("reference %s matched %d objects, expected exactly one", e.Reference, e.Matches)
}

// IsReferenceResolutionError reports whether an error is a zero-or-many
// reference resolution failure, the class of failure the reference failure
// policy applies to.
func IsReferenceResolutionError(err error) bool {
	var notFound *ReferenceNotFoundError
	var ambiguous *AmbiguousReferenceError
	return errors.As(err, &notFound) || errors.As(err, &ambiguous)
}
