package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/isometry/adimport/internal/logging"
)

// SubschemaReader reads the raw schema definitions the directory publishes
// on its subschema subentry.
type SubschemaReader struct {
	client  Client
	log     logging.Logger
	timeout time.Duration
}

// NewSubschemaReader creates a subschema reader.
func NewSubschemaReader(client Client, log logging.Logger) *SubschemaReader {
	if log == nil {
		log = logging.Discard()
	}
	return &SubschemaReader{
		client:  client,
		log:     log,
		timeout: 60 * time.Second,
	}
}

// SubschemaEntries returns the attributeTypes and objectClasses definitions
// from the subschema subentry advertised in the root DSE.
func (s *SubschemaReader) SubschemaEntries(ctx context.Context) ([]string, []string, error) {
	subentryDN, err := s.subschemaSubentryDN(ctx)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	searchReq := &SearchRequest{
		BaseDN:     subentryDN,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=subschema)",
		Attributes: []string{"attributeTypes", "objectClasses"},
		SizeLimit:  1,
		TimeLimit:  s.timeout,
	}

	result, err := s.client.Search(ctx, searchReq)
	if err != nil {
		return nil, nil, fmt.Errorf("subschema search failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, nil, fmt.Errorf("subschema subentry %s not found", subentryDN)
	}

	entry := result.Entries[0]
	attributeTypes := entry.GetAttributeValues("attributeTypes")
	objectClasses := entry.GetAttributeValues("objectClasses")

	if len(attributeTypes) == 0 && len(objectClasses) == 0 {
		return nil, nil, fmt.Errorf("subschema subentry %s carries no definitions", subentryDN)
	}

	s.log.Debug("Fetched subschema", map[string]any{
		"subentry":        subentryDN,
		"attribute_types": len(attributeTypes),
		"object_classes":  len(objectClasses),
		"duration_ms":     time.Since(start).Milliseconds(),
	})

	return attributeTypes, objectClasses, nil
}

// subschemaSubentryDN reads the subschema subentry DN from the root DSE.
func (s *SubschemaReader) subschemaSubentryDN(ctx context.Context) (string, error) {
	searchReq := &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"subschemaSubentry"},
		SizeLimit:  1,
		TimeLimit:  s.timeout,
	}

	result, err := s.client.Search(ctx, searchReq)
	if err != nil {
		return "", fmt.Errorf("root DSE search failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("no root DSE found")
	}

	dn := result.Entries[0].GetAttributeValue("subschemaSubentry")
	if dn == "" {
		return "", fmt.Errorf("root DSE does not advertise a subschemaSubentry")
	}

	return dn, nil
}
