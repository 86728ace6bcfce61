package engine

import (
	"fmt"
	"strings"

	"github.com/isometry/adimport/internal/input"
)

// Defaults are the run-level fallbacks applied when a row carries no
// override column, or an empty value in one.
type Defaults struct {
	ObjectType string
	State      ObjectState
	Operation  ValueOperation
}

// Classifier determines each row's effective object type, state and
// multi-value operation. Override column positions are resolved once from
// the header, so classifying a row touches no shared state and the same row
// always classifies identically.
type Classifier struct {
	defaults Defaults
	typeIdx  int
	stateIdx int
	opIdx    int
}

// NewClassifier creates a classifier for a file with the given header.
func NewClassifier(header []string, defaults Defaults) *Classifier {
	c := &Classifier{
		defaults: defaults,
		typeIdx:  -1,
		stateIdx: -1,
		opIdx:    -1,
	}
	for i, name := range header {
		switch name {
		case HeaderObjectType:
			c.typeIdx = i
		case HeaderState:
			c.stateIdx = i
		case HeaderOperation:
			c.opIdx = i
		}
	}
	return c
}

// HasStateColumn reports whether the file carries a per-row state override.
func (c *Classifier) HasStateColumn() bool {
	return c.stateIdx >= 0
}

// HasObjectTypeColumn reports whether the file carries a per-row object
// type override.
func (c *Classifier) HasObjectTypeColumn() bool {
	return c.typeIdx >= 0
}

// Classify determines the row's effective object type, state and operation.
func (c *Classifier) Classify(row *input.Row) (Classification, error) {
	class := Classification{
		ObjectType: c.defaults.ObjectType,
		State:      c.defaults.State,
		Operation:  c.defaults.Operation,
	}

	if v := c.override(row, c.typeIdx); v != "" {
		class.ObjectType = v
	}
	if class.ObjectType == "" {
		return Classification{}, fmt.Errorf("line %d: no object type given and no default configured", row.Line)
	}

	if v := c.override(row, c.stateIdx); v != "" {
		state, err := ParseObjectState(v)
		if err != nil {
			return Classification{}, &UnknownStateError{Value: v, Line: row.Line}
		}
		class.State = state
	}

	if v := c.override(row, c.opIdx); v != "" {
		op, err := ParseValueOperation(v)
		if err != nil {
			return Classification{}, &UnknownOperationError{Value: v, Line: row.Line}
		}
		class.Operation = op
	}

	return class, nil
}

// override returns the row's trimmed value for an override column, or empty
// when the column is absent or the cell is blank.
func (c *Classifier) override(row *input.Row, idx int) string {
	if idx < 0 || idx >= len(row.Values) {
		return ""
	}
	return strings.TrimSpace(row.Values[idx])
}
