// Package bootpath parses the `[disk-selector:partition-selector]/path`
// strings used throughout the boot configuration language to name a file on
// a storage device (§4.2).
package bootpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperboot/hyper/pkg/guid"
)

// SelectorKind identifies which form a disk/partition selector takes.
type SelectorKind int

const (
	// SelectorImplicit selects the boot disk/partition ("boot", or the
	// selector simply being absent).
	SelectorImplicit SelectorKind = iota
	SelectorIndex
	SelectorGUID
	SelectorName
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorImplicit:
		return "implicit"
	case SelectorIndex:
		return "index"
	case SelectorGUID:
		return "guid"
	case SelectorName:
		return "name"
	default:
		return fmt.Sprintf("SelectorKind(%d)", int(k))
	}
}

// Selector names a disk or partition.
type Selector struct {
	Kind  SelectorKind
	Index uint64
	GUID  guid.GUID
	Name  string
}

// FullPath is a parsed `[disk:partition]/path` reference (§3).
type FullPath struct {
	Disk                Selector
	Partition           Selector
	PathWithinPartition string
}

// PathError is returned for a malformed path string (§7).
type PathError struct {
	Input string
	Msg   string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("malformed path %q: %s", e.Input, e.Msg)
}

// Parse parses one of:
//
//	/abs/path               implicit disk, implicit partition
//	[selector]/path         selector names the disk; partition stays implicit
//	[disk:partition]/path   both selectors given explicitly
//
// Selectors are a bare integer (index), "guid:XXXXXXXX-...-..." (GUID),
// "name:..." (label), or "boot" (implicit).
func Parse(s string) (*FullPath, error) {
	if strings.HasPrefix(s, "/") {
		return &FullPath{
			Disk:                Selector{Kind: SelectorImplicit},
			Partition:           Selector{Kind: SelectorImplicit},
			PathWithinPartition: s,
		}, nil
	}

	if !strings.HasPrefix(s, "[") {
		return nil, &PathError{Input: s, Msg: "path must start with '/' or '['"}
	}
	closeIdx := strings.IndexByte(s, ']')
	if closeIdx < 0 {
		return nil, &PathError{Input: s, Msg: "missing closing ']'"}
	}
	bracket := s[1:closeIdx]
	rest := s[closeIdx+1:]
	if !strings.HasPrefix(rest, "/") {
		return nil, &PathError{Input: s, Msg: "expected '/' immediately after ']'"}
	}

	disk, partition, err := parseSelectors(bracket)
	if err != nil {
		return nil, &PathError{Input: s, Msg: err.Error()}
	}

	return &FullPath{Disk: disk, Partition: partition, PathWithinPartition: rest}, nil
}

// parseSelectors splits bracket content into a disk selector and an
// optional partition selector; with a single selector the partition is
// implicit. Each selector consumes either one part
// (an index or "boot") or two parts ("guid:X"/"name:X") of the
// colon-delimited bracket content; "guid"/"name" values never contain
// colons, so parts can be consumed greedily left-to-right.
func parseSelectors(bracket string) (disk, partition Selector, err error) {
	parts := strings.Split(bracket, ":")
	if len(parts) == 0 || parts[0] == "" {
		return Selector{}, Selector{}, fmt.Errorf("empty selector")
	}

	first, rest, err := consumeSelector(parts)
	if err != nil {
		return Selector{}, Selector{}, err
	}
	if len(rest) == 0 {
		// Single-selector form (§8): names the disk; the partition stays
		// implicit (the boot/default partition on that disk).
		return first, Selector{Kind: SelectorImplicit}, nil
	}

	second, rest2, err := consumeSelector(rest)
	if err != nil {
		return Selector{}, Selector{}, err
	}
	if len(rest2) != 0 {
		return Selector{}, Selector{}, fmt.Errorf("too many ':'-separated selector components")
	}
	return first, second, nil
}

// consumeSelector parses one selector from the front of parts and returns
// the remaining, unconsumed parts.
func consumeSelector(parts []string) (Selector, []string, error) {
	head := parts[0]
	switch head {
	case "boot":
		return Selector{Kind: SelectorImplicit}, parts[1:], nil
	case "guid":
		if len(parts) < 2 {
			return Selector{}, nil, fmt.Errorf("'guid:' selector is missing its value")
		}
		g, err := guid.Parse(parts[1])
		if err != nil {
			return Selector{}, nil, fmt.Errorf("invalid guid selector: %w", err)
		}
		return Selector{Kind: SelectorGUID, GUID: *g}, parts[2:], nil
	case "name":
		if len(parts) < 2 {
			return Selector{}, nil, fmt.Errorf("'name:' selector is missing its value")
		}
		return Selector{Kind: SelectorName, Name: parts[1]}, parts[2:], nil
	default:
		idx, err := strconv.ParseUint(head, 10, 64)
		if err != nil {
			return Selector{}, nil, fmt.Errorf("selector %q is neither 'boot', 'guid:', 'name:', nor an index", head)
		}
		return Selector{Kind: SelectorIndex, Index: idx}, parts[1:], nil
	}
}
