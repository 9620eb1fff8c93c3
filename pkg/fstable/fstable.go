// Package fstable is the filesystem table (§4.2): a registry mapping a
// full_path's disk/partition selectors to a concrete filesystem capability
// and the path within that partition. Concrete filesystem drivers
// (FAT/ISO9660/etc.) are external collaborators, reached only through the
// File/Filesystem interfaces below (§1, out of scope).
package fstable

import (
	"github.com/hyperboot/hyper/pkg/bootpath"
)

// File is an open handle on a filesystem. All I/O is synchronous and
// blocking (§5).
type File interface {
	// Read reads length bytes starting at off into buf, returning the
	// number of bytes actually read.
	Read(buf []byte, off int64, length int) (int, error)
	Size() int64
	Close() error
}

// Filesystem is the opaque capability a concrete filesystem driver
// implements (§4.2).
type Filesystem interface {
	Open(path string) (File, error)
}

type mount struct {
	disk      bootpath.Selector
	partition bootpath.Selector
	fs        Filesystem
}

// Table maps (disk selector, partition selector) pairs to mounted
// filesystems.
type Table struct {
	mounts []mount

	bootDisk      bootpath.Selector
	bootPartition bootpath.Selector
	haveBoot      bool
}

// NewTable creates an empty filesystem table.
func NewTable() *Table {
	return &Table{}
}

// Mount registers fs as serving the given concrete disk/partition
// selectors. Selectors must not be SelectorImplicit — firmware registers
// the disk/partition it actually found, not a boot-relative alias.
func (t *Table) Mount(disk, partition bootpath.Selector, fs Filesystem) {
	t.mounts = append(t.mounts, mount{disk: disk, partition: partition, fs: fs})
}

// SetBoot records which concrete disk/partition selectors the implicit
// "boot" selector resolves to. It must be called once, before any path
// using an implicit selector is resolved.
func (t *Table) SetBoot(disk, partition bootpath.Selector) {
	t.bootDisk = disk
	t.bootPartition = partition
	t.haveBoot = true
}

// ByFullPath resolves p to its mounted filesystem and the path within that
// partition, or ok=false if no mount matches (§4.2).
func (t *Table) ByFullPath(p *bootpath.FullPath) (fs Filesystem, pathWithinPartition string, ok bool) {
	disk := p.Disk
	if disk.Kind == bootpath.SelectorImplicit && t.haveBoot {
		disk = t.bootDisk
	}
	partition := p.Partition
	if partition.Kind == bootpath.SelectorImplicit && t.haveBoot {
		partition = t.bootPartition
	}

	for _, m := range t.mounts {
		if selectorEqual(m.disk, disk) && selectorEqual(m.partition, partition) {
			return m.fs, p.PathWithinPartition, true
		}
	}
	return nil, "", false
}

func selectorEqual(a, b bootpath.Selector) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case bootpath.SelectorIndex:
		return a.Index == b.Index
	case bootpath.SelectorGUID:
		return a.GUID.Equal(b.GUID)
	case bootpath.SelectorName:
		return a.Name == b.Name
	default:
		return true // SelectorImplicit
	}
}
