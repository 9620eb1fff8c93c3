package config

import (
	"fmt"
	"strings"

	"github.com/fatih/camelcase"
	"github.com/hashicorp/go-multierror"
)

// recognizedKeys is the §6 table of keys a loadable entry may declare.
var recognizedKeys = []string{"binary", "module", "cmdline", "video-mode", "stack"}

// Validate walks every loadable entry in s and checks it against the §6
// recognized-key table: mandatory keys present, every recognized key's
// value matching the expected shape, and no unrecognized keys. Every
// problem found is aggregated into a single *multierror.Error (nil if
// none), matching the teacher's Firmware.Validate() []error convention.
func (s *Store) Validate() error {
	var result *multierror.Error

	for off := s.FirstLoadableEntry(); off != 0; off = s.NextLoadableEntry(off) {
		name := s.LoadableEntryName(off)
		scope := s.EntryAt(off).Value.Object
		for _, e := range s.validateEntry(name, scope) {
			result = multierror.Append(result, e)
		}
	}

	return result.ErrorOrNil()
}

func (s *Store) validateEntry(name string, scope Offset) []error {
	var errs []error

	if _, ok, err := s.GetOneOf(scope, "binary", MaskString|MaskObject); err != nil {
		errs = append(errs, fmt.Errorf("[%s]: key %q: %w", name, "binary", err))
	} else if !ok {
		errs = append(errs, fmt.Errorf("[%s]: missing mandatory key %q", name, "binary"))
	}

	for cur := s.FirstInScope(scope); cur != 0; cur = s.EntryAt(cur).NextInScope {
		e := s.EntryAt(cur)
		if e.Tag != TagValue || e.Key != "module" {
			continue
		}
		if e.Value.Type != TypeString && e.Value.Type != TypeObject {
			errs = append(errs, fmt.Errorf("[%s]: key %q: has type %s, expected string or object", name, "module", e.Value.Type))
		}
	}

	if _, _, err := s.GetOneOf(scope, "cmdline", MaskString); err != nil {
		errs = append(errs, fmt.Errorf("[%s]: key %q: %w", name, "cmdline", err))
	}

	// video-mode additionally accepts an explicit null ("unset"); TypeNone
	// has no named mask since get_one_of never requires it elsewhere.
	const maskNone TypeMask = 1 << TypeNone
	if _, _, err := s.GetOneOf(scope, "video-mode", MaskString|MaskObject|maskNone); err != nil {
		errs = append(errs, fmt.Errorf("[%s]: key %q: %w", name, "video-mode", err))
	}

	if _, _, err := s.GetOneOf(scope, "stack", MaskString|MaskObject); err != nil {
		errs = append(errs, fmt.Errorf("[%s]: key %q: %w", name, "stack", err))
	}

	errs = append(errs, s.unrecognizedKeyErrors(name, scope)...)

	return errs
}

// unrecognizedKeyErrors flags any key in scope outside the §6 table,
// suggesting the closest recognized key by comparing the hyphen/case
// word-split of the unknown key against each recognized key's own split
// (e.g. "videoMode" and "video-mode" both split to ["video", "mode"]).
func (s *Store) unrecognizedKeyErrors(name string, scope Offset) []error {
	var errs []error
	seen := map[string]bool{}
	for cur := s.FirstInScope(scope); cur != 0; cur = s.EntryAt(cur).NextInScope {
		e := s.EntryAt(cur)
		if e.Tag != TagValue || seen[e.Key] || isRecognizedKey(e.Key) {
			continue
		}
		seen[e.Key] = true
		errs = append(errs, fmt.Errorf("[%s]: unrecognized key %q (did you mean %q?)", name, e.Key, suggestKey(e.Key)))
	}
	return errs
}

func isRecognizedKey(key string) bool {
	for _, k := range recognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// suggestKey picks the recognized key whose camelcase/hyphen word-split
// shares the most words with key's own split.
func suggestKey(key string) string {
	words := splitKeyWords(key)
	best, bestScore := recognizedKeys[0], -1
	for _, candidate := range recognizedKeys {
		score := overlapWords(words, splitKeyWords(candidate))
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

func splitKeyWords(key string) []string {
	var words []string
	for _, part := range strings.Split(key, "-") {
		for _, w := range camelcase.Split(part) {
			words = append(words, strings.ToLower(w))
		}
	}
	return words
}

func overlapWords(a, b []string) int {
	set := map[string]bool{}
	for _, w := range b {
		set[w] = true
	}
	n := 0
	for _, w := range a {
		if set[w] {
			n++
		}
	}
	return n
}
