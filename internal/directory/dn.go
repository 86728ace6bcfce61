package directory

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDNValue escapes special characters in a DN attribute value according
// to RFC 4514: the specials , + " \ < > ; everywhere, # when leading, spaces
// when leading or trailing, NULL as \00.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// UnescapeDNValue removes RFC 4514 escaping from a DN attribute value. It is
// the inverse of EscapeDNValue and also understands hex escapes like \00.
func UnescapeDNValue(value string) string {
	if value == "" || !strings.Contains(value, "\\") {
		return value
	}

	var result strings.Builder
	result.Grow(len(value))

	escaped := false
	hexBuffer := make([]rune, 0, 2)

	for i, r := range value {
		if escaped {
			if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
				hexBuffer = append(hexBuffer, r)
				if len(hexBuffer) == 2 {
					var hexValue int
					for _, h := range hexBuffer {
						hexValue = hexValue * 16
						switch {
						case h >= '0' && h <= '9':
							hexValue += int(h - '0')
						case h >= 'a' && h <= 'f':
							hexValue += int(h - 'a' + 10)
						case h >= 'A' && h <= 'F':
							hexValue += int(h - 'A' + 10)
						}
					}
					result.WriteRune(rune(hexValue))
					hexBuffer = hexBuffer[:0]
					escaped = false
				}
				continue
			}

			// Started hex but hit a non-hex char: keep the original text
			if len(hexBuffer) > 0 {
				result.WriteRune('\\')
				for _, h := range hexBuffer {
					result.WriteRune(h)
				}
				hexBuffer = hexBuffer[:0]
			}

			result.WriteRune(r)
			escaped = false
		} else if r == '\\' {
			if i == len(value)-1 {
				result.WriteRune(r) // Trailing backslash, keep it
			} else {
				escaped = true
			}
		} else {
			result.WriteRune(r)
		}
	}

	if escaped {
		result.WriteRune('\\')
	}
	if len(hexBuffer) > 0 {
		result.WriteRune('\\')
		for _, h := range hexBuffer {
			result.WriteRune(h)
		}
	}

	return result.String()
}

// NeedsDNEscaping checks if a value contains characters that need DN escaping.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}

	if value[0] == ' ' || value[len(value)-1] == ' ' {
		return true
	}

	if value[0] == '#' {
		return true
	}

	for _, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';', 0:
			return true
		}
	}

	return false
}

// BuildDN composes the DN for a new object from its naming attribute, the
// naming value and the parent container.
func BuildDN(rdnAttribute, value, container string) (string, error) {
	if rdnAttribute == "" {
		return "", fmt.Errorf("naming attribute cannot be empty")
	}
	if value == "" {
		return "", fmt.Errorf("naming value cannot be empty")
	}
	if err := ValidateDNSyntax(container); err != nil {
		return "", fmt.Errorf("invalid container: %w", err)
	}

	return fmt.Sprintf("%s=%s,%s", strings.ToUpper(rdnAttribute), EscapeDNValue(value), container), nil
}

// NormalizeDNCase normalizes the attribute type descriptors in a DN to
// uppercase, the canonical Active Directory form. Value case and spacing are
// preserved.
func NormalizeDNCase(dn string) (string, error) {
	if dn == "" {
		return "", nil
	}

	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return reconstructDNWithUppercaseTypes(parsedDN), nil
}

// reconstructDNWithUppercaseTypes rebuilds a DN from parsed components with
// attribute type descriptors in uppercase. Parsed values are unescaped, so
// each value is re-escaped on the way out.
func reconstructDNWithUppercaseTypes(parsedDN *ldap.DN) string {
	var rdnStrings []string

	for _, rdn := range parsedDN.RDNs {
		var attrStrings []string

		for _, attr := range rdn.Attributes {
			attrType := strings.ToUpper(attr.Type)
			attrStrings = append(attrStrings, fmt.Sprintf("%s=%s", attrType, EscapeDNValue(attr.Value)))
		}

		// Multiple attributes in the same RDN join with "+"
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}

	return strings.Join(rdnStrings, ",")
}

// NormalizeDNCaseBatch normalizes the case of multiple DNs.
func NormalizeDNCaseBatch(dns []string) ([]string, error) {
	if len(dns) == 0 {
		return dns, nil
	}

	normalized := make([]string, len(dns))
	for i, dn := range dns {
		n, err := NormalizeDNCase(dn)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize DN '%s': %w", dn, err)
		}
		normalized[i] = n
	}

	return normalized, nil
}

// ValidateDNSyntax validates that a string is a properly formatted DN.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// ExtractRDNValue extracts the value of the first RDN component with the
// specified attribute type, e.g. "CN" from "CN=John,OU=Users,DC=example,DC=com".
func ExtractRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	normalizedAttrType := strings.ToUpper(attrType)

	for _, rdn := range parsedDN.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.ToUpper(attr.Type) == normalizedAttrType {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}

// RDNAttributeType returns the attribute type of the leading RDN, uppercased.
func RDNAttributeType(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) == 0 || len(parsedDN.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("DN has no RDN: %s", dn)
	}

	return strings.ToUpper(parsedDN.RDNs[0].Attributes[0].Type), nil
}

// GetDNParent returns the parent DN by removing the first RDN component.
func GetDNParent(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) <= 1 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}

	parentDN := &ldap.DN{
		RDNs: parsedDN.RDNs[1:],
	}

	return reconstructDNWithUppercaseTypes(parentDN), nil
}

// IsDNChild checks if childDN is a direct or indirect child of parentDN.
func IsDNChild(childDN, parentDN string) (bool, error) {
	if childDN == "" || parentDN == "" {
		return false, fmt.Errorf("DNs cannot be empty")
	}

	parsedChild, err := ldap.ParseDN(childDN)
	if err != nil {
		return false, fmt.Errorf("invalid child DN syntax: %w", err)
	}

	parsedParent, err := ldap.ParseDN(parentDN)
	if err != nil {
		return false, fmt.Errorf("invalid parent DN syntax: %w", err)
	}

	if len(parsedChild.RDNs) <= len(parsedParent.RDNs) {
		return false, nil
	}

	childParentRDNs := parsedChild.RDNs[len(parsedChild.RDNs)-len(parsedParent.RDNs):]
	childParentDN := &ldap.DN{RDNs: childParentRDNs}

	childParentNormalized := strings.ToLower(reconstructDNWithUppercaseTypes(childParentDN))
	parentNormalized := strings.ToLower(reconstructDNWithUppercaseTypes(parsedParent))

	return childParentNormalized == parentNormalized, nil
}
