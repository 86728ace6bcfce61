package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adimport/internal/input"
)

func TestClassifier_Classify(t *testing.T) {
	defaults := Defaults{
		ObjectType: "user",
		State:      StatePut,
		Operation:  OpAdd,
	}

	tests := []struct {
		name   string
		header []string
		row    input.Row
		want   Classification
	}{
		{
			name:   "defaults apply without override columns",
			header: []string{"cn", "employeeID"},
			row:    input.Row{Line: 2, Values: []string{"John Doe", "12345"}},
			want:   Classification{ObjectType: "user", State: StatePut, Operation: OpAdd},
		},
		{
			name:   "row overrides all defaults",
			header: []string{"!ObjectType", "!State", "!Operation", "cn"},
			row:    input.Row{Line: 2, Values: []string{"group", "create", "replace", "Engineering"}},
			want:   Classification{ObjectType: "group", State: StateCreate, Operation: OpSet},
		},
		{
			name:   "empty override cells fall back to defaults",
			header: []string{"!ObjectType", "!State", "!Operation", "cn"},
			row:    input.Row{Line: 3, Values: []string{"", "", "", "John Doe"}},
			want:   Classification{ObjectType: "user", State: StatePut, Operation: OpAdd},
		},
		{
			name:   "whitespace-only override cells fall back to defaults",
			header: []string{"!State", "cn"},
			row:    input.Row{Line: 4, Values: []string{"   ", "John Doe"}},
			want:   Classification{ObjectType: "user", State: StatePut, Operation: OpAdd},
		},
		{
			name:   "state override is case-insensitive",
			header: []string{"!State", "cn"},
			row:    input.Row{Line: 5, Values: []string{"DELETE", "John Doe"}},
			want:   Classification{ObjectType: "user", State: StateDelete, Operation: OpAdd},
		},
		{
			name:   "override value is trimmed",
			header: []string{"!ObjectType", "cn"},
			row:    input.Row{Line: 6, Values: []string{"  contact  ", "John Doe"}},
			want:   Classification{ObjectType: "contact", State: StatePut, Operation: OpAdd},
		},
		{
			name:   "row shorter than override column",
			header: []string{"cn", "!State"},
			row:    input.Row{Line: 7, Values: []string{"John Doe"}},
			want:   Classification{ObjectType: "user", State: StatePut, Operation: OpAdd},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewClassifier(tt.header, defaults)

			got, err := classifier.Classify(&tt.row)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifier_Classify_Errors(t *testing.T) {
	t.Run("unknown state carries the line", func(t *testing.T) {
		classifier := NewClassifier([]string{"!State", "cn"}, Defaults{ObjectType: "user"})

		_, err := classifier.Classify(&input.Row{Line: 12, Values: []string{"upsert", "John Doe"}})

		require.Error(t, err)
		var stateErr *UnknownStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, "upsert", stateErr.Value)
		assert.Equal(t, 12, stateErr.Line)
		assert.Contains(t, err.Error(), "line 12")
	})

	t.Run("unknown operation carries the line", func(t *testing.T) {
		classifier := NewClassifier([]string{"!Operation", "cn"}, Defaults{ObjectType: "user"})

		_, err := classifier.Classify(&input.Row{Line: 7, Values: []string{"merge", "John Doe"}})

		require.Error(t, err)
		var opErr *UnknownOperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "merge", opErr.Value)
		assert.Equal(t, 7, opErr.Line)
	})

	t.Run("no object type anywhere", func(t *testing.T) {
		classifier := NewClassifier([]string{"!ObjectType", "cn"}, Defaults{})

		_, err := classifier.Classify(&input.Row{Line: 2, Values: []string{"", "John Doe"}})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
		assert.Contains(t, err.Error(), "no object type given")
	})
}

func TestClassifier_ColumnDetection(t *testing.T) {
	tests := []struct {
		name          string
		header        []string
		hasObjectType bool
		hasState      bool
	}{
		{
			name:          "no overrides",
			header:        []string{"cn", "employeeID"},
			hasObjectType: false,
			hasState:      false,
		},
		{
			name:          "both overrides",
			header:        []string{"!ObjectType", "!State", "cn"},
			hasObjectType: true,
			hasState:      true,
		},
		{
			name:          "state only",
			header:        []string{"!State", "cn"},
			hasObjectType: false,
			hasState:      true,
		},
		{
			name:          "reserved names are exact",
			header:        []string{"!state", "!objecttype", "cn"},
			hasObjectType: false,
			hasState:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewClassifier(tt.header, Defaults{ObjectType: "user"})

			assert.Equal(t, tt.hasObjectType, classifier.HasObjectTypeColumn())
			assert.Equal(t, tt.hasState, classifier.HasStateColumn())
		})
	}
}
