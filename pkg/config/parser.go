package config

import (
	"strconv"
)

// Parse tokenizes and parses config text into a Store. Keys in the returned
// Store are views into text, so text must outlive the Store (§3, §9); string
// values are copied out of text while their escapes are decoded.
//
// Parse reports the first error encountered; there is no partial recovery
// (§4.1).
func Parse(text string) (*Store, error) {
	p := &parser{l: newLexer(text), s: &Store{text: text}}
	if err := p.parseTop(); err != nil {
		return nil, err
	}
	return p.s, nil
}

type parser struct {
	l *lexer
	s *Store
}

// append adds e to the store and returns its 1-based offset.
func (p *parser) append(e Entry) Offset {
	p.s.entries = append(p.s.entries, e)
	return Offset(len(p.s.entries))
}

// parseTop parses the global scope: a mix of key/value pairs and `[name]`
// loadable-entry headers, each header implicitly terminating the scope of
// whatever preceded it and opening its own nested scope (§4.1).
func (p *parser) parseTop() error {
	var rootFirst, rootPrev Offset
	var loadPrev Offset

	linkRoot := func(off Offset) {
		if rootFirst == 0 {
			rootFirst = off
		} else {
			p.s.entry(rootPrev).NextInScope = off
		}
		rootPrev = off
	}

	for {
		tok, err := p.l.peek()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tokEOF:
			p.s.root = rootFirst
			return nil
		case tokLBracket:
			off, err := p.parseLoadableEntry()
			if err != nil {
				return err
			}
			linkRoot(off)
			if loadPrev == 0 {
				p.s.firstLoadable = off
			} else {
				p.s.entry(loadPrev).NextLoadableEntry = off
			}
			loadPrev = off
			p.s.lastLoadable = off
		case tokIdent:
			off, err := p.parseKV()
			if err != nil {
				return err
			}
			linkRoot(off)
		default:
			return newError(tok, "expected key, '[', or end of file, got %q", tok.text)
		}
	}
}

// parseLoadableEntry parses `[name]` and its body (key/value pairs up to
// the next `[` or EOF), returning the offset of the header entry.
func (p *parser) parseLoadableEntry() (Offset, error) {
	if _, err := p.l.next(); err != nil { // consume '['
		return 0, err
	}
	name, err := p.l.next()
	if err != nil {
		return 0, err
	}
	if name.kind != tokIdent {
		return 0, newError(name, "expected loadable entry name, got %q", name.text)
	}
	closeBr, err := p.l.next()
	if err != nil {
		return 0, err
	}
	if closeBr.kind != tokRBracket {
		return 0, newError(closeBr, "expected ']' after entry name, got %q", closeBr.text)
	}

	headerOff := p.append(Entry{Key: name.text, Tag: TagLoadableEntry})

	bodyFirst, err := p.parseScope(func(k tokenKind) bool {
		return k == tokEOF || k == tokLBracket
	})
	if err != nil {
		return 0, err
	}
	obj := Value{Type: TypeObject, Object: bodyFirst}
	if bodyFirst == 0 {
		obj.Object = emptyScope
	}
	p.s.entry(headerOff).Value = obj
	return headerOff, nil
}

// parseScope parses key/value pairs until isEnd reports true for the next
// token (without consuming that token), returning the offset of the first
// entry in the scope, or 0 if the scope was empty.
func (p *parser) parseScope(isEnd func(tokenKind) bool) (Offset, error) {
	var first, prev Offset
	for {
		tok, err := p.l.peek()
		if err != nil {
			return 0, err
		}
		if isEnd(tok.kind) {
			return first, nil
		}
		if tok.kind != tokIdent {
			return 0, newError(tok, "expected key or '}', got %q", tok.text)
		}
		off, err := p.parseKV()
		if err != nil {
			return 0, err
		}
		if first == 0 {
			first = off
		} else {
			p.s.entry(prev).NextInScope = off
		}
		prev = off
	}
}

func (p *parser) parseKV() (Offset, error) {
	key, err := p.l.next()
	if err != nil {
		return 0, err
	}
	eq, err := p.l.next()
	if err != nil {
		return 0, err
	}
	if eq.kind != tokEquals {
		return 0, newError(eq, "expected '=' after key %q, got %q", key.text, eq.text)
	}
	val, err := p.parseValue()
	if err != nil {
		return 0, err
	}
	return p.append(Entry{Key: key.text, Tag: TagValue, Value: val}), nil
}

func (p *parser) parseValue() (Value, error) {
	tok, err := p.l.next()
	if err != nil {
		return Value{}, err
	}
	switch tok.kind {
	case tokLBrace:
		first, err := p.parseScope(func(k tokenKind) bool { return k == tokRBrace })
		if err != nil {
			return Value{}, err
		}
		closeBr, err := p.l.next()
		if err != nil {
			return Value{}, err
		}
		if closeBr.kind != tokRBrace {
			return Value{}, newError(closeBr, "expected '}', got %q", closeBr.text)
		}
		if first == 0 {
			first = emptyScope
		}
		return Value{Type: TypeObject, Object: first}, nil
	case tokString:
		return Value{Type: TypeString, Str: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return Value{Type: TypeBoolean, Boolean: true}, nil
		case "false":
			return Value{Type: TypeBoolean, Boolean: false}, nil
		case "null":
			return Value{Type: TypeNone}, nil
		default:
			return Value{}, newError(tok, "expected a value (true/false/null/number/string/object), got %q", tok.text)
		}
	case tokNumber:
		return parseNumber(tok)
	default:
		return Value{}, newError(tok, "expected a value, got %q", tok.text)
	}
}

func parseNumber(tok token) (Value, error) {
	text := tok.text
	neg := false
	rest := text
	if len(rest) > 0 && (rest[0] == '+' || rest[0] == '-') {
		neg = rest[0] == '-'
		rest = rest[1:]
	}
	isHexLit := len(rest) > 2 && rest[0] == '0' && (rest[1] == 'x' || rest[1] == 'X')

	if neg {
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, newError(tok, "invalid signed integer %q: %v", text, err)
		}
		return Value{Type: TypeSigned, Signed: v}, nil
	}
	if isHexLit {
		v, err := strconv.ParseUint(rest, 0, 64)
		if err != nil {
			return Value{}, newError(tok, "invalid hex integer %q: %v", text, err)
		}
		return Value{Type: TypeUnsigned, Unsigned: v}, nil
	}
	v, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return Value{}, newError(tok, "invalid integer %q: %v", text, err)
	}
	return Value{Type: TypeUnsigned, Unsigned: v}, nil
}
