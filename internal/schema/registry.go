package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/isometry/adimport/internal/logging"
)

// SubschemaSource supplies the raw RFC 4512 definitions published by the
// directory's subschema subentry.
type SubschemaSource interface {
	SubschemaEntries(ctx context.Context) (attributeTypes []string, objectClasses []string, err error)
}

// CacheStats reports registry cache effectiveness.
type CacheStats struct {
	Hits   int64 // schema served from cache
	Misses int64 // schema assembled on demand
	Loads  int64 // subschema round-trips
}

// Registry resolves object type names to their schemas. The subschema is
// fetched once and parsed definitions are cached for the process lifetime;
// there is no invalidation.
type Registry struct {
	source  SubschemaSource
	aliases map[string]string
	log     logging.Logger

	mu         sync.RWMutex
	loaded     bool
	attrTypes  map[string]*AttributeTypeDescription // keyed by every lowercased name
	classes    map[string]*ObjectClassDescription   // keyed by every lowercased name
	schemas    map[string]*ObjectSchema             // keyed by lowercased object type
	parseFails int

	hits   int64
	misses int64
	loads  int64
}

// NewRegistry creates a schema registry reading definitions from source.
// aliases maps friendly object type names to directory object class names;
// values that are LDAP filter fragments are ignored here and the type name
// itself is used as the class name.
func NewRegistry(source SubschemaSource, aliases map[string]string, log logging.Logger) *Registry {
	normalized := make(map[string]string, len(aliases))
	for k, v := range aliases {
		if strings.HasPrefix(v, "(") {
			continue
		}
		normalized[strings.ToLower(k)] = v
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{
		source:  source,
		aliases: normalized,
		log:     log,
		schemas: make(map[string]*ObjectSchema),
	}
}

// Get returns the schema for an object type, assembling and caching it on
// first use. Returns UnknownObjectTypeError when the directory defines no
// such type or the type binds no attributes.
func (r *Registry) Get(ctx context.Context, objectType string) (*ObjectSchema, error) {
	key := strings.ToLower(objectType)

	r.mu.RLock()
	cached, ok := r.schemas[key]
	r.mu.RUnlock()
	if ok {
		atomic.AddInt64(&r.hits, 1)
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock
	if cached, ok := r.schemas[key]; ok {
		atomic.AddInt64(&r.hits, 1)
		return cached, nil
	}
	atomic.AddInt64(&r.misses, 1)

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	built, err := r.assembleLocked(objectType)
	if err != nil {
		return nil, err
	}

	r.schemas[key] = built
	r.log.Debug("Assembled object type schema", map[string]any{
		"object_type": objectType,
		"class":       built.Class,
		"attributes":  built.Len(),
	})
	return built, nil
}

// Stats returns a snapshot of the cache statistics.
func (r *Registry) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&r.hits),
		Misses: atomic.LoadInt64(&r.misses),
		Loads:  atomic.LoadInt64(&r.loads),
	}
}

// ensureLoadedLocked fetches and parses the subschema once. A failed fetch
// is retried on the next call.
func (r *Registry) ensureLoadedLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}

	attrDefs, classDefs, err := r.source.SubschemaEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read subschema: %w", err)
	}
	atomic.AddInt64(&r.loads, 1)

	r.attrTypes = make(map[string]*AttributeTypeDescription, len(attrDefs))
	r.classes = make(map[string]*ObjectClassDescription, len(classDefs))
	r.parseFails = 0

	for _, def := range attrDefs {
		at, err := ParseAttributeType(def)
		if err != nil {
			r.parseFails++
			r.log.Trace("Skipping unparseable attribute type", map[string]any{
				"definition": def,
				"error":      err.Error(),
			})
			continue
		}
		for _, name := range at.Names {
			r.attrTypes[strings.ToLower(name)] = at
		}
		if len(at.Names) == 0 {
			r.attrTypes[strings.ToLower(at.OID)] = at
		}
	}

	for _, def := range classDefs {
		oc, err := ParseObjectClass(def)
		if err != nil {
			r.parseFails++
			r.log.Trace("Skipping unparseable object class", map[string]any{
				"definition": def,
				"error":      err.Error(),
			})
			continue
		}
		for _, name := range oc.Names {
			r.classes[strings.ToLower(name)] = oc
		}
	}

	r.log.Info("Loaded directory subschema", map[string]any{
		"attribute_types": len(r.attrTypes),
		"object_classes":  len(r.classes),
		"parse_failures":  r.parseFails,
	})

	r.loaded = true
	return nil
}

// assembleLocked builds the ObjectSchema for one object type from the parsed
// class hierarchy.
func (r *Registry) assembleLocked(objectType string) (*ObjectSchema, error) {
	className := objectType
	if alias, ok := r.aliases[strings.ToLower(objectType)]; ok {
		className = alias
	}

	class, ok := r.classes[strings.ToLower(className)]
	if !ok {
		return nil, &UnknownObjectTypeError{ObjectType: objectType}
	}

	// Walk the superclass chain collecting MUST and MAY attributes.
	// Required status from a subclass wins over optional in a superclass.
	required := make(map[string]bool)
	var order []string
	var chain []string
	visited := make(map[string]bool)

	for current := class; current != nil; {
		name := current.Name()
		if visited[strings.ToLower(name)] {
			break
		}
		visited[strings.ToLower(name)] = true
		chain = append(chain, name)

		for _, attr := range current.Must {
			key := strings.ToLower(attr)
			if _, seen := required[key]; !seen {
				order = append(order, attr)
			}
			required[key] = true
		}
		for _, attr := range current.May {
			key := strings.ToLower(attr)
			if _, seen := required[key]; !seen {
				order = append(order, attr)
				required[key] = false
			}
		}

		current = r.superClassLocked(current)
	}

	descriptors := make([]*AttributeDescriptor, 0, len(order))
	for _, attrName := range order {
		at, ok := r.attrTypes[strings.ToLower(attrName)]
		if !ok {
			r.log.Trace("Object class references undefined attribute type", map[string]any{
				"class":     className,
				"attribute": attrName,
			})
			continue
		}

		syntax := r.resolveSyntaxLocked(at)
		descriptors = append(descriptors, &AttributeDescriptor{
			Name:      at.Name(),
			OID:       at.OID,
			Kind:      DeriveKind(at.SingleValue, syntax == SyntaxDN),
			SyntaxOID: syntax,
			Required:  required[strings.ToLower(attrName)],
			System:    at.NoUserModification,
		})
	}

	if len(descriptors) == 0 {
		return nil, &UnknownObjectTypeError{ObjectType: objectType}
	}

	return newObjectSchema(objectType, class.Name(), chain, descriptors)
}

// superClassLocked returns the parsed superclass of a class, or nil at the
// top of the hierarchy.
func (r *Registry) superClassLocked(class *ObjectClassDescription) *ObjectClassDescription {
	if len(class.SuperClasses) == 0 {
		return nil
	}
	// Structural inheritance is single in practice; take the first
	super, ok := r.classes[strings.ToLower(class.SuperClasses[0])]
	if !ok {
		return nil
	}
	if super == class {
		return nil
	}
	return super
}

// resolveSyntaxLocked returns the attribute's syntax OID, following the
// supertype chain for definitions that inherit their syntax.
func (r *Registry) resolveSyntaxLocked(at *AttributeTypeDescription) string {
	visited := make(map[string]bool)
	for current := at; current != nil; {
		if current.SyntaxOID != "" {
			return current.SyntaxOID
		}
		if current.SuperType == "" || visited[strings.ToLower(current.SuperType)] {
			return ""
		}
		visited[strings.ToLower(current.SuperType)] = true
		current = r.attrTypes[strings.ToLower(current.SuperType)]
	}
	return ""
}
