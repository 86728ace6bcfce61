package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adimport/internal/logging"
)

// PathFilter is the parsed form of a directory path filter,
// /Type[Attribute='Value'].
type PathFilter struct {
	ObjectType string
	Attribute  string
	Value      string
}

// String reconstructs the path filter expression.
func (p *PathFilter) String() string {
	return FormatPathFilter(p.ObjectType, p.Attribute, p.Value)
}

// FormatPathFilter builds a path filter expression from its components.
// Single quotes in the value are doubled.
func FormatPathFilter(objectType, attribute, value string) string {
	return fmt.Sprintf("/%s[%s='%s']", objectType, attribute, strings.ReplaceAll(value, "'", "''"))
}

// ParsePathFilter parses a path filter of the form /Type[Attribute='Value'].
// A doubled single quote inside the value denotes a literal quote.
func ParsePathFilter(expr string) (*PathFilter, error) {
	if !strings.HasPrefix(expr, "/") {
		return nil, fmt.Errorf("path filter must start with '/': %s", expr)
	}

	rest := expr[1:]
	open := strings.Index(rest, "[")
	if open <= 0 {
		return nil, fmt.Errorf("path filter missing predicate: %s", expr)
	}

	objectType := rest[:open]
	predicate := rest[open+1:]

	eq := strings.Index(predicate, "=")
	if eq <= 0 {
		return nil, fmt.Errorf("path filter predicate missing '=': %s", expr)
	}

	attribute := predicate[:eq]
	valuePart := predicate[eq+1:]

	if !strings.HasPrefix(valuePart, "'") {
		return nil, fmt.Errorf("path filter value must be quoted: %s", expr)
	}
	valuePart = valuePart[1:]

	// Scan for the closing quote, treating '' as an escaped quote
	var value strings.Builder
	i := 0
	closed := false
	for i < len(valuePart) {
		ch := valuePart[i]
		if ch == '\'' {
			if i+1 < len(valuePart) && valuePart[i+1] == '\'' {
				value.WriteByte('\'')
				i += 2
				continue
			}
			closed = true
			i++
			break
		}
		value.WriteByte(ch)
		i++
	}

	if !closed || valuePart[i:] != "]" {
		return nil, fmt.Errorf("path filter not terminated with ']': %s", expr)
	}

	return &PathFilter{
		ObjectType: objectType,
		Attribute:  attribute,
		Value:      value.String(),
	}, nil
}

// DefaultObjectClassMap maps the common directory object type names to the
// LDAP filter clauses that select them. Keys are matched case-insensitively.
// Values starting with '(' are used verbatim as a filter clause, anything
// else is treated as an objectClass value.
func DefaultObjectClassMap() map[string]string {
	return map[string]string{
		"user":               "(&(objectClass=user)(objectCategory=person))",
		"person":             "(&(objectClass=user)(objectCategory=person))",
		"group":              "group",
		"computer":           "computer",
		"contact":            "contact",
		"organizationalunit": "organizationalUnit",
		"ou":                 "organizationalUnit",
	}
}

// Evaluator evaluates path filters against the directory and reports the
// Distinguished Names of matching objects.
type Evaluator struct {
	client      Client
	guidHandler *GUIDHandler
	baseDN      string
	classMap    map[string]string
	log         logging.Logger
	timeout     time.Duration
}

// NewEvaluator creates a path filter evaluator searching below baseDN.
// classMap overrides DefaultObjectClassMap when non-nil.
func NewEvaluator(client Client, baseDN string, classMap map[string]string, log logging.Logger) *Evaluator {
	if classMap == nil {
		classMap = DefaultObjectClassMap()
	} else {
		// Normalize keys so lookups can be case-insensitive
		normalized := make(map[string]string, len(classMap))
		for k, v := range classMap {
			normalized[strings.ToLower(k)] = v
		}
		classMap = normalized
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Evaluator{
		client:      client,
		guidHandler: NewGUIDHandler(),
		baseDN:      baseDN,
		classMap:    classMap,
		log:         log,
		timeout:     30 * time.Second,
	}
}

// Query evaluates a path filter and returns the DNs of matching objects.
// The search is capped at two entries, which is enough for callers that only
// distinguish between zero, one and many matches.
func (e *Evaluator) Query(ctx context.Context, pathFilter string) ([]string, error) {
	return e.query(ctx, pathFilter, 2)
}

// QueryAll evaluates a path filter and returns every matching DN, paging
// through large result sets.
func (e *Evaluator) QueryAll(ctx context.Context, pathFilter string) ([]string, error) {
	pf, err := ParsePathFilter(pathFilter)
	if err != nil {
		return nil, err
	}

	filter, err := e.toLDAPFilter(pf)
	if err != nil {
		return nil, err
	}

	searchReq := &SearchRequest{
		BaseDN:     e.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		TimeLimit:  e.timeout,
	}

	result, err := e.client.SearchWithPaging(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("path filter query failed: %w", err)
	}

	return e.collectDNs(result)
}

func (e *Evaluator) query(ctx context.Context, pathFilter string, limit int) ([]string, error) {
	pf, err := ParsePathFilter(pathFilter)
	if err != nil {
		return nil, err
	}

	filter, err := e.toLDAPFilter(pf)
	if err != nil {
		return nil, err
	}

	e.log.Trace("Evaluating path filter", map[string]any{
		"path_filter": pathFilter,
		"ldap_filter": filter,
		"base_dn":     e.baseDN,
	})

	searchReq := &SearchRequest{
		BaseDN:     e.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		SizeLimit:  limit,
		TimeLimit:  e.timeout,
	}

	result, err := e.client.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("path filter query failed: %w", err)
	}

	return e.collectDNs(result)
}

// toLDAPFilter converts a parsed path filter into an LDAP search filter.
func (e *Evaluator) toLDAPFilter(pf *PathFilter) (string, error) {
	if pf.ObjectType == "" {
		return "", fmt.Errorf("path filter object type cannot be empty")
	}
	if pf.Attribute == "" {
		return "", fmt.Errorf("path filter attribute cannot be empty")
	}

	classClause := e.classClause(pf.ObjectType)

	valueClause, err := e.valueClause(pf.Attribute, pf.Value)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("(&%s%s)", classClause, valueClause), nil
}

// classClause returns the filter clause selecting the object type.
func (e *Evaluator) classClause(objectType string) string {
	mapped, ok := e.classMap[strings.ToLower(objectType)]
	if !ok {
		mapped = objectType
	}
	if strings.HasPrefix(mapped, "(") {
		return mapped
	}
	return fmt.Sprintf("(objectClass=%s)", ldap.EscapeFilter(mapped))
}

// valueClause returns the equality clause for the predicate. GUID-valued
// attributes are stored as binary and need their string form converted.
func (e *Evaluator) valueClause(attribute, value string) (string, error) {
	if strings.EqualFold(attribute, "objectGUID") {
		filter, err := e.guidHandler.GUIDToSearchFilter(value)
		if err != nil {
			return "", fmt.Errorf("invalid GUID value in path filter: %w", err)
		}
		return filter, nil
	}
	return fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value)), nil
}

// collectDNs extracts normalized DNs from a search result.
func (e *Evaluator) collectDNs(result *SearchResult) ([]string, error) {
	dns := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		dns = append(dns, entry.DN)
	}

	normalized, err := NormalizeDNCaseBatch(dns)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize result DNs: %w", err)
	}
	return normalized, nil
}
