package config

import (
	"fmt"

	hyperlog "github.com/hyperboot/hyper/pkg/log"
)

// ErrDuplicateKey is returned by the unique Get* variants when a scope
// contains more than one entry for the requested key.
type ErrDuplicateKey struct {
	Key string
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("config: key %q is not unique in this scope", e.Key)
}

// ErrTypeMismatch is returned when a key exists but its value does not
// match the requested type(s).
type ErrTypeMismatch struct {
	Key      string
	Got      ValueType
	Expected TypeMask
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("config: key %q has type %s, which does not match the expected type", e.Key, e.Got)
}

func (s *Store) scopeStart(scope Offset) Offset {
	if scope == GlobalScope {
		return s.root
	}
	if scope == emptyScope {
		return noMore
	}
	return scope
}

// findFirst returns the offset of the first entry named key within scope,
// the count of entries with that key (capped at 2, since callers only need
// to distinguish 0/1/"more than one"), and ok reporting whether at least
// one was found.
func (s *Store) findFirst(scope Offset, key string) (off Offset, count int, ok bool) {
	cur := s.scopeStart(scope)
	for cur != noMore {
		e := s.entry(cur)
		if e.Tag != TagNone && e.Key == key {
			if !ok {
				off = cur
				ok = true
			}
			count++
			if count >= 2 {
				return off, count, ok
			}
		}
		cur = e.NextInScope
	}
	return off, count, ok
}

// getOneOf implements the §4.1 get_one_of contract: a single entry with the
// given key must exist (duplicates are an error) and its type must be one
// of mask. ok is false if the key is absent.
func (s *Store) getOneOf(scope Offset, key string, mask TypeMask) (Value, bool, error) {
	off, count, ok := s.findFirst(scope, key)
	if !ok {
		return Value{}, false, nil
	}
	if count > 1 {
		return Value{}, false, &ErrDuplicateKey{Key: key}
	}
	v := s.entry(off).Value
	if v.Type.mask()&mask == 0 {
		return Value{}, false, &ErrTypeMismatch{Key: key, Got: v.Type, Expected: mask}
	}
	return v, true, nil
}

// getFirstOneOf implements get_first_T: duplicates are permitted, the first
// occurrence (in source order) is returned.
func (s *Store) getFirstOneOf(scope Offset, key string, mask TypeMask) (Value, bool, error) {
	off, _, ok := s.findFirst(scope, key)
	if !ok {
		return Value{}, false, nil
	}
	v := s.entry(off).Value
	if v.Type.mask()&mask == 0 {
		return Value{}, false, &ErrTypeMismatch{Key: key, Got: v.Type, Expected: mask}
	}
	return v, true, nil
}

// GetOneOf returns the single entry named key in scope, whose type must be
// one of mask. It is an error for more than one entry with key to exist.
func (s *Store) GetOneOf(scope Offset, key string, mask TypeMask) (Value, bool, error) {
	return s.getOneOf(scope, key, mask)
}

// GetBool looks up a unique boolean-typed key.
func (s *Store) GetBool(scope Offset, key string) (bool, bool, error) {
	v, ok, err := s.getOneOf(scope, key, MaskBoolean)
	return v.Boolean, ok, err
}

// GetUnsigned looks up a unique unsigned-typed key.
func (s *Store) GetUnsigned(scope Offset, key string) (uint64, bool, error) {
	v, ok, err := s.getOneOf(scope, key, MaskUnsigned)
	return v.Unsigned, ok, err
}

// GetSigned looks up a unique signed-typed key.
func (s *Store) GetSigned(scope Offset, key string) (int64, bool, error) {
	v, ok, err := s.getOneOf(scope, key, MaskSigned)
	return v.Signed, ok, err
}

// GetString looks up a unique string-typed key.
func (s *Store) GetString(scope Offset, key string) (string, bool, error) {
	v, ok, err := s.getOneOf(scope, key, MaskString)
	return v.Str, ok, err
}

// GetObject looks up a unique object-typed key, returning the child scope.
func (s *Store) GetObject(scope Offset, key string) (Offset, bool, error) {
	v, ok, err := s.getOneOf(scope, key, MaskObject)
	return v.Object, ok, err
}

// GetFirstString looks up a string-typed key, permitting duplicates and
// returning the first.
func (s *Store) GetFirstString(scope Offset, key string) (string, bool, error) {
	v, ok, err := s.getFirstOneOf(scope, key, MaskString)
	return v.Str, ok, err
}

// GetFirstObject looks up an object-typed key, permitting duplicates and
// returning the first.
func (s *Store) GetFirstObject(scope Offset, key string) (Offset, bool, error) {
	v, ok, err := s.getFirstOneOf(scope, key, MaskObject)
	return v.Object, ok, err
}

// GetNext iterates to the next sibling sharing prev's key, starting the
// search immediately after prev. strictType, when true, raises
// ErrTypeMismatch if the next match's type isn't in mask instead of
// silently returning it.
func (s *Store) GetNext(scope Offset, key string, prev Offset, mask TypeMask, strictType bool) (Value, Offset, bool, error) {
	cur := s.entry(prev).NextInScope
	for cur != noMore {
		e := s.entry(cur)
		if e.Tag != TagNone && e.Key == key {
			if strictType && e.Value.Type.mask()&mask == 0 {
				return Value{}, 0, false, &ErrTypeMismatch{Key: key, Got: e.Value.Type, Expected: mask}
			}
			return e.Value, cur, true, nil
		}
		cur = e.NextInScope
	}
	return Value{}, 0, false, nil
}

// MandatoryGet raises a fatal error (via pkg/log, §7) if key is absent from
// scope, mirroring the source's MANDATORY_GET helper. On success it returns
// the resolved value.
func MandatoryGet(s *Store, scope Offset, key string, mask TypeMask) Value {
	v, ok, err := s.getOneOf(scope, key, mask)
	if err != nil {
		hyperlog.Fatalf("config: mandatory key %q: %v", key, err)
		return Value{}
	}
	if !ok {
		hyperlog.Fatalf("config: mandatory key %q is missing", key)
		return Value{}
	}
	return v
}
