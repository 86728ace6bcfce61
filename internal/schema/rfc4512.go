package schema

import (
	"fmt"
	"strings"
)

// AttributeTypeDescription is a parsed RFC 4512 attribute type definition.
type AttributeTypeDescription struct {
	OID                string
	Names              []string
	SuperType          string
	SyntaxOID          string
	SingleValue        bool
	NoUserModification bool
	Obsolete           bool
}

// Name returns the primary name of the attribute type, falling back to the
// OID for nameless definitions.
func (a *AttributeTypeDescription) Name() string {
	if len(a.Names) > 0 {
		return a.Names[0]
	}
	return a.OID
}

// ObjectClassDescription is a parsed RFC 4512 object class definition.
type ObjectClassDescription struct {
	OID          string
	Names        []string
	SuperClasses []string
	Kind         string // STRUCTURAL, AUXILIARY or ABSTRACT
	Must         []string
	May          []string
	Obsolete     bool
}

// Name returns the primary name of the object class, falling back to the OID
// for nameless definitions.
func (o *ObjectClassDescription) Name() string {
	if len(o.Names) > 0 {
		return o.Names[0]
	}
	return o.OID
}

// ParseAttributeType parses one RFC 4512 AttributeTypeDescription, for
// example:
//
//	( 2.5.4.3 NAME 'cn' SUP name SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{32768} SINGLE-VALUE )
//
// Active Directory publishes the SYNTAX OID single-quoted; both forms are
// accepted.
func ParseAttributeType(def string) (*AttributeTypeDescription, error) {
	p, err := newDefinitionParser(def)
	if err != nil {
		return nil, err
	}

	at := &AttributeTypeDescription{OID: p.oid}

	for !p.done() {
		keyword := p.next()
		switch strings.ToUpper(keyword) {
		case "NAME":
			at.Names, err = p.nameList()
		case "SUP":
			at.SuperType = p.next()
		case "SYNTAX":
			at.SyntaxOID = stripSyntaxDecoration(p.next())
		case "SINGLE-VALUE":
			at.SingleValue = true
		case "NO-USER-MODIFICATION":
			at.NoUserModification = true
		case "OBSOLETE":
			at.Obsolete = true
		case "COLLECTIVE":
			// flag, no value
		default:
			p.skipValue()
		}
		if err != nil {
			return nil, fmt.Errorf("attribute type %s: %w", at.OID, err)
		}
	}

	return at, nil
}

// ParseObjectClass parses one RFC 4512 ObjectClassDescription, for example:
//
//	( 2.5.6.6 NAME 'person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY ( seeAlso ) )
func ParseObjectClass(def string) (*ObjectClassDescription, error) {
	p, err := newDefinitionParser(def)
	if err != nil {
		return nil, err
	}

	oc := &ObjectClassDescription{OID: p.oid}

	for !p.done() {
		keyword := p.next()
		switch strings.ToUpper(keyword) {
		case "NAME":
			oc.Names, err = p.nameList()
		case "SUP":
			oc.SuperClasses, err = p.oidList()
		case "MUST":
			oc.Must, err = p.oidList()
		case "MAY":
			oc.May, err = p.oidList()
		case "STRUCTURAL", "AUXILIARY", "ABSTRACT":
			oc.Kind = strings.ToUpper(keyword)
		case "OBSOLETE":
			oc.Obsolete = true
		default:
			p.skipValue()
		}
		if err != nil {
			return nil, fmt.Errorf("object class %s: %w", oc.OID, err)
		}
	}

	return oc, nil
}

// definitionParser walks the token stream of one definition. The surrounding
// parentheses and the leading OID are consumed during construction.
type definitionParser struct {
	tokens []string
	pos    int
	oid    string
}

func newDefinitionParser(def string) (*definitionParser, error) {
	tokens, err := tokenizeDefinition(def)
	if err != nil {
		return nil, err
	}
	if len(tokens) < 3 || tokens[0] != "(" || tokens[len(tokens)-1] != ")" {
		return nil, fmt.Errorf("definition not enclosed in parentheses: %s", def)
	}

	// Strip the outer parentheses and take the OID
	tokens = tokens[1 : len(tokens)-1]
	return &definitionParser{
		tokens: tokens[1:],
		oid:    tokens[0],
	}, nil
}

func (p *definitionParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *definitionParser) next() string {
	if p.done() {
		return ""
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *definitionParser) peek() string {
	if p.done() {
		return ""
	}
	return p.tokens[p.pos]
}

// nameList parses either a single quoted name or a parenthesized list of
// quoted names. The tokenizer has already stripped the quotes.
func (p *definitionParser) nameList() ([]string, error) {
	if p.peek() != "(" {
		name := p.next()
		if name == "" {
			return nil, fmt.Errorf("missing name")
		}
		return []string{name}, nil
	}

	p.next() // consume "("
	var names []string
	for {
		tok := p.next()
		if tok == ")" {
			break
		}
		if tok == "" {
			return nil, fmt.Errorf("unterminated name list")
		}
		names = append(names, tok)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("empty name list")
	}
	return names, nil
}

// oidList parses either a single descriptor or a parenthesized
// dollar-separated list of descriptors.
func (p *definitionParser) oidList() ([]string, error) {
	if p.peek() != "(" {
		oid := p.next()
		if oid == "" {
			return nil, fmt.Errorf("missing oid")
		}
		return []string{oid}, nil
	}

	p.next() // consume "("
	var oids []string
	for {
		tok := p.next()
		if tok == ")" {
			break
		}
		if tok == "" {
			return nil, fmt.Errorf("unterminated oid list")
		}
		if tok == "$" {
			continue
		}
		oids = append(oids, tok)
	}
	return oids, nil
}

// skipValue consumes the value belonging to an unrecognized keyword, which
// is either a parenthesized group or a single token.
func (p *definitionParser) skipValue() {
	if p.peek() != "(" {
		// Flag keywords carry no value; consuming the next token would
		// swallow the following keyword, so only consume tokens that do
		// not look like keywords.
		if tok := p.peek(); tok != "" && !isKeywordToken(tok) {
			p.next()
		}
		return
	}

	p.next() // consume "("
	depth := 1
	for depth > 0 {
		tok := p.next()
		switch tok {
		case "(":
			depth++
		case ")":
			depth--
		case "":
			return
		}
	}
}

// isKeywordToken reports whether a token looks like an RFC 4512 keyword
// rather than a value. Keywords are all-caps words, possibly hyphenated or
// X- extensions.
func isKeywordToken(tok string) bool {
	if tok == "(" || tok == ")" || tok == "$" {
		return false
	}
	for _, r := range tok {
		if (r < 'A' || r > 'Z') && r != '-' {
			return false
		}
	}
	return len(tok) > 1
}

// tokenizeDefinition splits a definition into tokens: parentheses, dollar
// separators, quoted strings (with quotes removed) and bare words.
func tokenizeDefinition(def string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(def) {
		ch := def[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(' || ch == ')' || ch == '$':
			tokens = append(tokens, string(ch))
			i++
		case ch == '\'':
			end := strings.IndexByte(def[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted string in definition: %s", def)
			}
			tokens = append(tokens, def[i+1:i+1+end])
			i += end + 2
		default:
			start := i
			for i < len(def) && !strings.ContainsRune(" \t\n\r()$'", rune(def[i])) {
				i++
			}
			tokens = append(tokens, def[start:i])
		}
	}
	return tokens, nil
}

// stripSyntaxDecoration removes the optional quotes and {len} suffix from a
// SYNTAX value.
func stripSyntaxDecoration(syntax string) string {
	syntax = strings.Trim(syntax, "'")
	if idx := strings.IndexByte(syntax, '{'); idx >= 0 {
		syntax = syntax[:idx]
	}
	return syntax
}
