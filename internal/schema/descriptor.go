// Package schema fetches, parses and caches directory object type schemas.
//
// The directory publishes its schema as RFC 4512 attribute type and object
// class descriptions on the subschema subentry. This package turns those
// descriptions into per-object-type attribute descriptors that drive the
// translation of raw row fields into typed attribute changes.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Syntax OIDs relevant to attribute classification.
const (
	// SyntaxDN marks Distinguished Name valued attributes, which hold
	// references to other directory objects.
	SyntaxDN = "1.3.6.1.4.1.1466.115.121.1.12"

	SyntaxBoolean         = "1.3.6.1.4.1.1466.115.121.1.7"
	SyntaxDirectoryString = "1.3.6.1.4.1.1466.115.121.1.15"
	SyntaxGeneralizedTime = "1.3.6.1.4.1.1466.115.121.1.24"
	SyntaxInteger         = "1.3.6.1.4.1.1466.115.121.1.27"
	SyntaxOctetString     = "1.3.6.1.4.1.1466.115.121.1.40"
)

// AttributeKind classifies an attribute by cardinality and value semantics.
// Every attribute falls into exactly one of the four kinds, so a switch over
// them needs no default handling beyond the zero value.
type AttributeKind uint8

const (
	KindScalarSimple AttributeKind = iota // single-valued, plain value
	KindScalarReference                   // single-valued, object reference
	KindMultiSimple                       // multi-valued, plain values
	KindMultiReference                    // multi-valued, object references
)

// DeriveKind computes the attribute kind from the schema flags.
func DeriveKind(singleValue, reference bool) AttributeKind {
	switch {
	case singleValue && !reference:
		return KindScalarSimple
	case singleValue && reference:
		return KindScalarReference
	case !singleValue && !reference:
		return KindMultiSimple
	default:
		return KindMultiReference
	}
}

// Multi reports whether the attribute holds multiple values.
func (k AttributeKind) Multi() bool {
	return k == KindMultiSimple || k == KindMultiReference
}

// Reference reports whether values refer to other directory objects.
func (k AttributeKind) Reference() bool {
	return k == KindScalarReference || k == KindMultiReference
}

// String returns the kind's display name.
func (k AttributeKind) String() string {
	switch k {
	case KindScalarSimple:
		return "scalar"
	case KindScalarReference:
		return "scalar-reference"
	case KindMultiSimple:
		return "multi-valued"
	case KindMultiReference:
		return "multi-valued-reference"
	default:
		return "unknown"
	}
}

// AttributeDescriptor describes one attribute of an object type. Immutable
// once built.
type AttributeDescriptor struct {
	Name      string        // canonical name from the schema
	OID       string        // attribute type OID
	Kind      AttributeKind // cardinality and value semantics
	SyntaxOID string        // raw syntax OID, without length suffix
	Required  bool          // listed in MUST rather than MAY
	System    bool          // NO-USER-MODIFICATION flag
}

// SyntaxName returns a human-readable name for the attribute's syntax.
func (d *AttributeDescriptor) SyntaxName() string {
	switch d.SyntaxOID {
	case SyntaxDN:
		return "DN"
	case SyntaxBoolean:
		return "Boolean"
	case SyntaxDirectoryString:
		return "String"
	case SyntaxGeneralizedTime:
		return "Time"
	case SyntaxInteger:
		return "Integer"
	case SyntaxOctetString:
		return "Binary"
	default:
		return d.SyntaxOID
	}
}

// ObjectSchema is the set of attributes defined for one object type,
// including those inherited from its superclass chain. Built once per object
// type and never mutated afterwards.
type ObjectSchema struct {
	ObjectType string // object type name as requested
	Class      string // canonical object class name
	SuperChain []string

	attributes map[string]*AttributeDescriptor // keyed by lowercased name
}

// newObjectSchema assembles a schema from its attribute descriptors.
// Duplicate attribute names are a schema error.
func newObjectSchema(objectType, class string, superChain []string, descriptors []*AttributeDescriptor) (*ObjectSchema, error) {
	attrs := make(map[string]*AttributeDescriptor, len(descriptors))
	for _, d := range descriptors {
		key := strings.ToLower(d.Name)
		if _, exists := attrs[key]; exists {
			return nil, fmt.Errorf("duplicate attribute %q in schema for object type %q", d.Name, objectType)
		}
		attrs[key] = d
	}

	return &ObjectSchema{
		ObjectType: objectType,
		Class:      class,
		SuperChain: superChain,
		attributes: attrs,
	}, nil
}

// Attribute looks up an attribute descriptor by name, case-insensitively.
func (s *ObjectSchema) Attribute(name string) (*AttributeDescriptor, bool) {
	d, ok := s.attributes[strings.ToLower(name)]
	return d, ok
}

// Len reports the number of attributes the object type defines.
func (s *ObjectSchema) Len() int {
	return len(s.attributes)
}

// Attributes returns all descriptors sorted by name.
func (s *ObjectSchema) Attributes() []*AttributeDescriptor {
	out := make([]*AttributeDescriptor, 0, len(s.attributes))
	for _, d := range s.attributes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// UnknownObjectTypeError reports an object type the directory does not
// define, or one that binds no attributes.
type UnknownObjectTypeError struct {
	ObjectType string
}

func (e *UnknownObjectTypeError) Error() string {
	return fmt.Sprintf("unknown object type: %s", e.ObjectType)
}
