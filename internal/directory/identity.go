package directory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adimport/internal/logging"
)

// IdentifierType represents the format of a directory object identifier.
type IdentifierType int

const (
	IdentifierTypeUnknown IdentifierType = iota
	IdentifierTypeDN                     // Distinguished Name
	IdentifierTypeGUID                   // Globally Unique Identifier
	IdentifierTypeSID                    // Security Identifier
	IdentifierTypeUPN                    // User Principal Name
	IdentifierTypeSAM                    // SAM Account Name (DOMAIN\username)
)

// String returns the string representation of the identifier type.
func (i IdentifierType) String() string {
	switch i {
	case IdentifierTypeDN:
		return "DN"
	case IdentifierTypeGUID:
		return "GUID"
	case IdentifierTypeSID:
		return "SID"
	case IdentifierTypeUPN:
		return "UPN"
	case IdentifierTypeSAM:
		return "SAM"
	default:
		return "Unknown"
	}
}

// Regular expressions for identifier format detection.
var (
	// DN format: CN=User,OU=Users,DC=example,DC=com.
	dnRegex = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|STREET|L|ST|POSTALCODE)=.+`)

	// SID format: S-1-5-21-domain-rid or S-1-5-32-alias.
	sidRegex = regexp.MustCompile(`^S-1-\d+(-\d+)*$`)

	// UPN format: user@domain.com.
	upnRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// SAM format: DOMAIN\username or just username.
	samRegex = regexp.MustCompile(`^([^\\@\s]+\\)?[^\\@\s]+$`)
)

// DetectIdentifierType analyzes an identifier string and determines its type.
func DetectIdentifierType(identifier string) IdentifierType {
	if identifier == "" {
		return IdentifierTypeUnknown
	}

	identifier = strings.TrimSpace(identifier)

	// DN first, it is the most specific format
	if dnRegex.MatchString(identifier) {
		return IdentifierTypeDN
	}

	if NewGUIDHandler().IsValidGUID(identifier) {
		return IdentifierTypeGUID
	}

	if sidRegex.MatchString(identifier) {
		return IdentifierTypeSID
	}

	if upnRegex.MatchString(identifier) {
		return IdentifierTypeUPN
	}

	// SAM is the least specific format and must come last
	if samRegex.MatchString(identifier) {
		return IdentifierTypeSAM
	}

	return IdentifierTypeUnknown
}

// ValidateIdentifier checks if an identifier has a recognizable format.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if DetectIdentifierType(strings.TrimSpace(identifier)) == IdentifierTypeUnknown {
		return fmt.Errorf("unknown identifier format: %s", identifier)
	}

	return nil
}

// SupportedIdentifierFormats lists the identifier formats ResolveToDN accepts.
func SupportedIdentifierFormats() []string {
	return []string{
		"Distinguished Name (DN): CN=User,OU=Users,DC=example,DC=com",
		"GUID: 12345678-1234-1234-1234-123456789012",
		"Security Identifier (SID): S-1-5-21-123456789-123456789-123456789-1001",
		"User Principal Name (UPN): user@example.com",
		"SAM Account Name: DOMAIN\\username or username",
	}
}

// Resolver converts directory object identifiers of any supported format to
// Distinguished Names. Positive resolutions are cached; callers that mutate
// the directory must invalidate the cache after renames and deletes.
type Resolver struct {
	client      Client
	guidHandler *GUIDHandler
	sidHandler  *SIDHandler
	baseDN      string
	log         logging.Logger
	timeout     time.Duration

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a new identifier resolver searching below baseDN.
func NewResolver(client Client, baseDN string, log logging.Logger) *Resolver {
	if log == nil {
		log = logging.Discard()
	}
	return &Resolver{
		client:      client,
		guidHandler: NewGUIDHandler(),
		sidHandler:  NewSIDHandler(),
		baseDN:      baseDN,
		log:         log,
		timeout:     30 * time.Second,
		cache:       make(map[string]string),
	}
}

// ResolveToDN converts any supported identifier format to a Distinguished
// Name. A nil error with an empty DN means the identifier was well formed but
// no object matched it.
func (r *Resolver) ResolveToDN(ctx context.Context, identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}

	identifier = strings.TrimSpace(identifier)

	r.mu.RLock()
	cached, found := r.cache[identifier]
	r.mu.RUnlock()
	if found {
		return cached, nil
	}

	idType := DetectIdentifierType(identifier)

	var dn string
	var err error

	switch idType {
	case IdentifierTypeDN:
		dn, err = r.validateDN(ctx, identifier)
	case IdentifierTypeGUID:
		dn, err = r.resolveGUIDToDN(ctx, identifier)
	case IdentifierTypeSID:
		dn, err = r.resolveSIDToDN(ctx, identifier)
	case IdentifierTypeUPN:
		dn, err = r.resolveByAttribute(ctx, "userPrincipalName", identifier)
	case IdentifierTypeSAM:
		dn, err = r.resolveByAttribute(ctx, "sAMAccountName", stripDomainPrefix(identifier))
	default:
		return "", fmt.Errorf("unable to determine identifier type for: %s", identifier)
	}

	if err != nil {
		return "", fmt.Errorf("failed to resolve identifier %q (type: %s): %w", identifier, idType.String(), err)
	}
	if dn == "" {
		r.log.Debug("Identifier did not match any object", map[string]any{
			"identifier": identifier,
			"type":       idType.String(),
		})
		return "", nil
	}

	normalizedDN, err := NormalizeDNCase(dn)
	if err != nil {
		return "", fmt.Errorf("failed to normalize DN case for %q: %w", dn, err)
	}

	r.mu.Lock()
	r.cache[identifier] = normalizedDN
	r.mu.Unlock()

	return normalizedDN, nil
}

// InvalidateCache drops all cached resolutions. Call after renaming or
// deleting directory objects.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	r.cache = make(map[string]string)
	r.mu.Unlock()
}

// CacheSize reports the number of cached resolutions.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// validateDN verifies that a DN exists and returns its canonical form.
func (r *Resolver) validateDN(ctx context.Context, dn string) (string, error) {
	normalizedSearchDN, err := NormalizeDNCase(dn)
	if err != nil {
		return "", fmt.Errorf("failed to normalize DN case for search: %w", err)
	}

	searchReq := &SearchRequest{
		BaseDN:     normalizedSearchDN,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"distinguishedName"},
		SizeLimit:  1,
		TimeLimit:  r.timeout,
	}

	result, err := r.client.Search(ctx, searchReq)
	if err != nil {
		if IsNotFoundError(err) {
			return "", nil
		}
		return "", fmt.Errorf("DN validation failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}

	// Prefer the canonical DN reported by the server
	if canonicalDN := result.Entries[0].GetAttributeValue("distinguishedName"); canonicalDN != "" {
		return canonicalDN, nil
	}
	return normalizedSearchDN, nil
}

// resolveGUIDToDN resolves a GUID to its Distinguished Name.
func (r *Resolver) resolveGUIDToDN(ctx context.Context, guid string) (string, error) {
	searchReq, err := r.guidHandler.GenerateGUIDSearchRequest(r.baseDN, guid)
	if err != nil {
		return "", fmt.Errorf("failed to create GUID search request: %w", err)
	}
	searchReq.TimeLimit = r.timeout

	result, err := r.client.Search(ctx, searchReq)
	if err != nil {
		return "", fmt.Errorf("GUID search failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}

	return result.Entries[0].DN, nil
}

// resolveSIDToDN resolves a Security Identifier to its Distinguished Name.
func (r *Resolver) resolveSIDToDN(ctx context.Context, sid string) (string, error) {
	filter, err := r.sidHandler.SIDToSearchFilter(sid)
	if err != nil {
		return "", fmt.Errorf("failed to create SID search filter: %w", err)
	}

	searchReq := &SearchRequest{
		BaseDN:     r.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		SizeLimit:  1,
		TimeLimit:  r.timeout,
	}

	result, err := r.client.Search(ctx, searchReq)
	if err != nil {
		return "", fmt.Errorf("SID search failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}

	return result.Entries[0].DN, nil
}

// resolveByAttribute resolves an object by equality match on one attribute.
func (r *Resolver) resolveByAttribute(ctx context.Context, attribute, value string) (string, error) {
	searchReq := &SearchRequest{
		BaseDN:     r.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value)),
		Attributes: []string{"distinguishedName"},
		SizeLimit:  1,
		TimeLimit:  r.timeout,
	}

	result, err := r.client.Search(ctx, searchReq)
	if err != nil {
		return "", fmt.Errorf("%s search failed: %w", attribute, err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}

	return result.Entries[0].DN, nil
}

// stripDomainPrefix removes the DOMAIN\ prefix from a SAM account name.
func stripDomainPrefix(sam string) string {
	if parts := strings.SplitN(sam, "\\", 2); len(parts) == 2 {
		return parts[1]
	}
	return sam
}
