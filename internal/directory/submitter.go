package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/adimport/internal/engine"
	"github.com/isometry/adimport/internal/logging"
)

// ObjectClassSpec describes how new objects of a type are created: the
// objectClass values stamped onto the entry and the attribute naming it.
type ObjectClassSpec struct {
	Classes []string
	RDN     string
}

// DefaultObjectClassSpecs maps well-known Active Directory object types to
// their creation spec.
func DefaultObjectClassSpecs() map[string]ObjectClassSpec {
	return map[string]ObjectClassSpec{
		"user":               {Classes: []string{"top", "person", "organizationalPerson", "user"}, RDN: "cn"},
		"person":             {Classes: []string{"top", "person", "organizationalPerson", "user"}, RDN: "cn"},
		"group":              {Classes: []string{"top", "group"}, RDN: "cn"},
		"computer":           {Classes: []string{"top", "person", "organizationalPerson", "user", "computer"}, RDN: "cn"},
		"contact":            {Classes: []string{"top", "person", "organizationalPerson", "contact"}, RDN: "cn"},
		"organizationalunit": {Classes: []string{"top", "organizationalUnit"}, RDN: "ou"},
		"ou":                 {Classes: []string{"top", "organizationalUnit"}, RDN: "ou"},
	}
}

// Submitter executes change requests against the directory. New objects are
// created under the configured container; modifications touching the naming
// attribute are carried out as renames. In dry-run mode every request is
// planned in full but nothing is written.
type Submitter struct {
	client    Client
	container string
	specs     map[string]ObjectClassSpec
	dryRun    bool
	log       logging.Logger
}

// NewSubmitter creates a submitter placing new objects under container.
// A nil specs map selects the well-known Active Directory types.
func NewSubmitter(client Client, container string, specs map[string]ObjectClassSpec, log logging.Logger) *Submitter {
	if specs == nil {
		specs = DefaultObjectClassSpecs()
	}
	normalized := make(map[string]ObjectClassSpec, len(specs))
	for objectType, spec := range specs {
		normalized[strings.ToLower(objectType)] = spec
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Submitter{
		client:    client,
		container: container,
		specs:     normalized,
		log:       log,
	}
}

// NewDryRunSubmitter creates a submitter that plans every request without
// touching the directory.
func NewDryRunSubmitter(container string, specs map[string]ObjectClassSpec, log logging.Logger) *Submitter {
	s := NewSubmitter(nil, container, specs, log)
	s.dryRun = true
	return s
}

// Submit executes one change request and returns the distinguished name it
// acted on. For renames this is the object's new DN.
func (s *Submitter) Submit(ctx context.Context, request *engine.ChangeRequest) (string, error) {
	switch request.Kind {
	case engine.OperationCreate:
		return s.create(ctx, request)
	case engine.OperationModify:
		return s.modify(ctx, request)
	case engine.OperationDelete:
		return s.remove(ctx, request)
	default:
		return "", fmt.Errorf("change kind %s cannot be submitted", request.Kind)
	}
}

// create adds a new object. The DN is composed from the type's naming
// attribute and the configured container, and the type's objectClass values
// are stamped on unless the row supplied its own.
func (s *Submitter) create(ctx context.Context, request *engine.ChangeRequest) (string, error) {
	spec, ok := s.specs[strings.ToLower(request.ObjectType)]
	if !ok {
		return "", fmt.Errorf("no object class mapping for type %q", request.ObjectType)
	}

	attributes := make(map[string][]string)
	for _, change := range request.Changes {
		if change.Operation == engine.OpRemove {
			return "", fmt.Errorf("cannot remove attribute %s while creating an object", change.Name)
		}
		attributes[change.Name] = append(attributes[change.Name], change.Value)
	}

	rdnValue := s.namingValue(spec.RDN, request.Changes)
	if rdnValue == "" {
		return "", fmt.Errorf("creating a %s requires a %s value", request.ObjectType, spec.RDN)
	}

	dn, err := BuildDN(spec.RDN, rdnValue, s.container)
	if err != nil {
		return "", WrapError("build_dn", "", err)
	}

	if _, ok := attributes["objectClass"]; !ok {
		attributes["objectClass"] = spec.Classes
	}

	if s.dryRun {
		s.log.Info("Would create directory object", map[string]any{
			"dn":         dn,
			"type":       request.ObjectType,
			"attributes": len(attributes),
		})
		return dn, nil
	}

	s.log.Debug("Creating directory object", map[string]any{
		"dn":         dn,
		"type":       request.ObjectType,
		"attributes": len(attributes),
	})

	if err := s.client.Add(ctx, &AddRequest{DN: dn, Attributes: attributes}); err != nil {
		return "", err
	}
	return dn, nil
}

// modify applies attribute changes to an existing object. A change replacing
// the naming attribute becomes a rename, executed before the remaining
// modifications.
func (s *Submitter) modify(ctx context.Context, request *engine.ChangeRequest) (string, error) {
	add := make(map[string][]string)
	replace := make(map[string][]string)
	remove := make(map[string][]string)

	for _, change := range request.Changes {
		switch change.Operation {
		case engine.OpAdd:
			add[change.Name] = append(add[change.Name], change.Value)
		case engine.OpSet:
			replace[change.Name] = append(replace[change.Name], change.Value)
		case engine.OpRemove:
			if change.Value == "" {
				if _, ok := remove[change.Name]; !ok {
					remove[change.Name] = []string{}
				}
			} else {
				remove[change.Name] = append(remove[change.Name], change.Value)
			}
		}
	}

	target, err := s.applyRename(ctx, request.TargetDN, replace)
	if err != nil {
		return "", err
	}

	if len(add) == 0 && len(replace) == 0 && len(remove) == 0 {
		return target, nil
	}

	if s.dryRun {
		s.log.Info("Would modify directory object", map[string]any{
			"dn":       target,
			"adds":     len(add),
			"replaces": len(replace),
			"removes":  len(remove),
		})
		return target, nil
	}

	modReq := &ModifyRequest{
		DN:                target,
		AddAttributes:     add,
		ReplaceAttributes: replace,
		DeleteAttributes:  remove,
	}
	if err := s.client.Modify(ctx, modReq); err != nil {
		return "", err
	}
	return target, nil
}

// remove deletes the target object.
func (s *Submitter) remove(ctx context.Context, request *engine.ChangeRequest) (string, error) {
	if s.dryRun {
		s.log.Info("Would delete directory object", map[string]any{"dn": request.TargetDN})
		return request.TargetDN, nil
	}

	s.log.Debug("Deleting directory object", map[string]any{"dn": request.TargetDN})
	if err := s.client.Delete(ctx, request.TargetDN); err != nil {
		return "", err
	}
	return request.TargetDN, nil
}

// applyRename renames the object when the replace set assigns a new value to
// its naming attribute. The consumed change is dropped from the replace set
// and the object's new DN returned; without a rename the DN passes through.
func (s *Submitter) applyRename(ctx context.Context, dn string, replace map[string][]string) (string, error) {
	rdnAttr, err := RDNAttributeType(dn)
	if err != nil {
		return "", WrapError("parse_dn", dn, err)
	}

	var nameAttr string
	for attr := range replace {
		if strings.EqualFold(attr, rdnAttr) {
			nameAttr = attr
			break
		}
	}
	if nameAttr == "" {
		return dn, nil
	}

	values := replace[nameAttr]
	delete(replace, nameAttr)
	if len(values) != 1 {
		return "", fmt.Errorf("naming attribute %s must receive exactly one value, got %d", rdnAttr, len(values))
	}

	current, err := ExtractRDNValue(dn, rdnAttr)
	if err != nil {
		return "", WrapError("parse_dn", dn, err)
	}
	if strings.EqualFold(current, values[0]) {
		return dn, nil
	}

	newRDN := fmt.Sprintf("%s=%s", strings.ToUpper(rdnAttr), EscapeDNValue(values[0]))
	parent, err := GetDNParent(dn)
	if err != nil {
		return "", WrapError("parse_dn", dn, err)
	}
	renamed := fmt.Sprintf("%s,%s", newRDN, parent)

	if s.dryRun {
		s.log.Info("Would rename directory object", map[string]any{
			"dn":      dn,
			"new_rdn": newRDN,
		})
		return renamed, nil
	}

	s.log.Info("Renaming directory object", map[string]any{
		"dn":      dn,
		"new_rdn": newRDN,
	})

	modifyDNReq := &ModifyDNRequest{
		DN:           dn,
		NewRDN:       newRDN,
		DeleteOldRDN: true,
	}
	if err := s.client.ModifyDN(ctx, modifyDNReq); err != nil {
		return "", err
	}
	return renamed, nil
}

// namingValue finds the first value assigned to the naming attribute.
func (s *Submitter) namingValue(rdnAttr string, changes []engine.AttributeChange) string {
	for _, change := range changes {
		if strings.EqualFold(change.Name, rdnAttr) {
			return change.Value
		}
	}
	return ""
}
