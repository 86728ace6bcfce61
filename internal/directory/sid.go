package directory

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// SIDHandler provides objectSid operations for Active Directory. AD stores
// SIDs in binary form; input and display use the S-1-5-21-... string form.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its string representation.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// ConvertBinarySIDToStringSafe converts a binary SID to string, returning ""
// when the conversion fails.
func (s *SIDHandler) ConvertBinarySIDToStringSafe(binarySID []byte) string {
	sidString, err := s.ConvertBinarySIDToString(binarySID)
	if err != nil {
		return ""
	}
	return sidString
}

// ExtractSID extracts the objectSid from an LDAP entry as a string.
func (s *SIDHandler) ExtractSID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	sidBytes := entry.GetRawAttributeValue("objectSid")
	if len(sidBytes) == 0 {
		return "", fmt.Errorf("objectSid attribute not found in entry")
	}

	return s.ConvertBinarySIDToString(sidBytes)
}

// ExtractSIDSafe extracts the objectSid from an LDAP entry, returning ""
// when absent. Handles both binary SID data (from a live directory) and
// string SID data (from test doubles).
func (s *SIDHandler) ExtractSIDSafe(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	sidBytes := entry.GetRawAttributeValue("objectSid")
	if len(sidBytes) > 0 {
		sid, err := s.ConvertBinarySIDToString(sidBytes)
		if err != nil {
			return ""
		}
		return sid
	}

	sidString := entry.GetAttributeValue("objectSid")
	if sidString != "" && s.ValidateSIDString(sidString) == nil {
		return sidString
	}

	return ""
}

// ValidateSIDString validates that a string is a properly formatted SID.
func (s *SIDHandler) ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if len(sidString) < 5 || sidString[:2] != "S-" {
		return fmt.Errorf("invalid SID format: must start with 'S-'")
	}

	return nil
}

// SIDToSearchFilter creates an LDAP search filter matching an object by SID.
// AD accepts the string form of a SID in filters.
func (s *SIDHandler) SIDToSearchFilter(sidString string) (string, error) {
	if err := s.ValidateSIDString(sidString); err != nil {
		return "", err
	}

	return fmt.Sprintf("(objectSid=%s)", ldap.EscapeFilter(sidString)), nil
}
