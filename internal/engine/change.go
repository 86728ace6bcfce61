package engine

import (
	"fmt"
	"strings"
)

// Reserved pseudo-attribute header tokens. Columns with these names carry
// per-row overrides and are never forwarded to the directory.
const (
	HeaderObjectType = "!ObjectType"
	HeaderState      = "!State"
	HeaderOperation  = "!Operation"
)

// IsReservedHeader reports whether a header token is a reserved
// pseudo-attribute.
func IsReservedHeader(name string) bool {
	return name == HeaderObjectType || name == HeaderState || name == HeaderOperation
}

// ObjectIDMatch is the match attribute value that bypasses directory lookup:
// the row's match column carries the object identifier itself.
const ObjectIDMatch = "ObjectID"

// ObjectState is the object-level operation a row requests.
type ObjectState uint8

const (
	StateCreate ObjectState = iota // create a new object
	StatePut                       // modify an existing object
	StateDelete                    // delete an existing object
)

// ParseObjectState parses a state name case-insensitively.
func ParseObjectState(value string) (ObjectState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "create":
		return StateCreate, nil
	case "put":
		return StatePut, nil
	case "delete":
		return StateDelete, nil
	default:
		return StateCreate, &UnknownStateError{Value: value}
	}
}

// String returns the state's canonical name.
func (s ObjectState) String() string {
	switch s {
	case StateCreate:
		return "Create"
	case StatePut:
		return "Put"
	case StateDelete:
		return "Delete"
	default:
		return fmt.Sprintf("ObjectState(%d)", uint8(s))
	}
}

// ValueOperation is the value-level operation applied by one AttributeChange.
// Scalar attributes only ever take OpSet; multi-valued attributes take the
// operation the row was classified with.
type ValueOperation uint8

const (
	OpSet    ValueOperation = iota // set a scalar, or replace a value set
	OpAdd                          // add a value to a multi-valued attribute
	OpRemove                       // remove a value, or clear an attribute
)

// ParseValueOperation parses a multi-value operation name
// case-insensitively. Replace maps to OpSet, Delete to OpRemove.
func ParseValueOperation(value string) (ValueOperation, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "add":
		return OpAdd, nil
	case "replace":
		return OpSet, nil
	case "delete":
		return OpRemove, nil
	default:
		return OpAdd, &UnknownOperationError{Value: value}
	}
}

// String returns the operation's display name.
func (o ValueOperation) String() string {
	switch o {
	case OpSet:
		return "Set"
	case OpAdd:
		return "Add"
	case OpRemove:
		return "Remove"
	default:
		return fmt.Sprintf("ValueOperation(%d)", uint8(o))
	}
}

// OperationKind is the directory operation a ChangeRequest performs.
type OperationKind uint8

const (
	OperationCreate OperationKind = iota
	OperationModify
	OperationDelete
	// OperationResolve is reserved for requests that only resolve an object
	// without changing it. The pipeline never emits it; references are
	// resolved during translation instead.
	OperationResolve
)

// String returns the kind's display name.
func (k OperationKind) String() string {
	switch k {
	case OperationCreate:
		return "Create"
	case OperationModify:
		return "Modify"
	case OperationDelete:
		return "Delete"
	case OperationResolve:
		return "Resolve"
	default:
		return fmt.Sprintf("OperationKind(%d)", uint8(k))
	}
}

// AttributeChange is one value-level change on one attribute. Resolved is
// false only for placeholder values the directory resolves at submission
// time; the translator emits resolved changes exclusively.
type AttributeChange struct {
	Name      string
	Operation ValueOperation
	Value     string
	Resolved  bool
}

// ChangeRequest is a complete directory change assembled from one row.
// Built fresh per row, submitted once, never reused.
type ChangeRequest struct {
	Kind       OperationKind
	ObjectType string
	TargetDN   string // empty for creates
	Changes    []AttributeChange
	Line       int // input record number the request came from
}

// Classification is the per-row result of applying the reserved overrides
// over the run-level defaults.
type Classification struct {
	ObjectType string
	State      ObjectState
	Operation  ValueOperation
}
