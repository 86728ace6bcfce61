package directory

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDHandler provides objectGUID operations for Active Directory.
// AD stores GUIDs in a mixed-endian layout that differs from the standard
// UUID byte ordering: the first three fields are little-endian, the rest
// big-endian.
type GUIDHandler struct{}

// NewGUIDHandler creates a new GUID handler instance.
func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// IsValidGUID checks if a string parses as a GUID. Hyphenated, compact,
// braced and urn forms are all accepted.
func (g *GUIDHandler) IsValidGUID(guidString string) bool {
	if guidString == "" {
		return false
	}
	return uuid.Validate(guidString) == nil
}

// NormalizeGUID converts any accepted GUID form to canonical lowercase
// hyphenated format.
func (g *GUIDHandler) NormalizeGUID(guidString string) (string, error) {
	parsed, err := uuid.Parse(guidString)
	if err != nil {
		return "", fmt.Errorf("invalid GUID format '%s': %w", guidString, err)
	}
	return parsed.String(), nil
}

// swapGUIDEndianness converts between standard UUID byte order and the AD
// mixed-endian layout. The transform is its own inverse.
func swapGUIDEndianness(in []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	// Data1 (bytes 0-3), Data2 (4-5), Data3 (6-7): reversed
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	out[4], out[5] = in[5], in[4]
	out[6], out[7] = in[7], in[6]

	// Data4 (bytes 8-15): unchanged
	copy(out[8:], in[8:])

	return out
}

// StringToGUIDBytes converts a GUID string to the Active Directory binary
// format used by the objectGUID attribute.
func (g *GUIDHandler) StringToGUIDBytes(guidString string) ([]byte, error) {
	parsed, err := uuid.Parse(guidString)
	if err != nil {
		return nil, fmt.Errorf("invalid GUID format '%s': %w", guidString, err)
	}

	standard := parsed[:]
	return swapGUIDEndianness(standard), nil
}

// GUIDBytesToString converts Active Directory GUID bytes to the canonical
// hyphenated string form.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	parsed, err := uuid.FromBytes(swapGUIDEndianness(guidBytes))
	if err != nil {
		return "", fmt.Errorf("failed to decode GUID bytes: %w", err)
	}

	return parsed.String(), nil
}

// GUIDToSearchFilter creates an LDAP search filter matching an object by its
// binary objectGUID. AD requires the binary form for GUID searches.
func (g *GUIDHandler) GUIDToSearchFilter(guidString string) (string, error) {
	guidBytes, err := g.StringToGUIDBytes(guidString)
	if err != nil {
		return "", fmt.Errorf("failed to convert GUID to bytes: %w", err)
	}

	return fmt.Sprintf("(objectGUID=%s)", ldap.EscapeFilter(string(guidBytes))), nil
}

// ExtractGUID extracts the objectGUID from an LDAP entry as a string.
func (g *GUIDHandler) ExtractGUID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	guidAttr := entry.GetRawAttributeValue("objectGUID")
	if len(guidAttr) == 0 {
		return "", fmt.Errorf("objectGUID attribute not found in entry")
	}

	return g.GUIDBytesToString(guidAttr)
}

// ExtractGUIDSafe extracts the objectGUID, returning "" when absent or
// malformed.
func (g *GUIDHandler) ExtractGUIDSafe(entry *ldap.Entry) string {
	guid, err := g.ExtractGUID(entry)
	if err != nil {
		return ""
	}
	return guid
}

// GenerateGUIDSearchRequest creates a SearchRequest locating an object by GUID.
func (g *GUIDHandler) GenerateGUIDSearchRequest(baseDN, guidString string) (*SearchRequest, error) {
	filter, err := g.GUIDToSearchFilter(guidString)
	if err != nil {
		return nil, fmt.Errorf("failed to create GUID search filter: %w", err)
	}

	return &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"objectGUID", "distinguishedName", "objectClass"},
		SizeLimit:  1, // GUID is unique
	}, nil
}
