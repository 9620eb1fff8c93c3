// Package archconst holds the architecture-defined virtual-address
// constants referenced throughout the loader (§3 GLOSSARY "Higher half",
// "Direct map"). They are compile-time constants rather than a config
// value: the handover protocol and the kernel it boots must agree on them
// independently of anything in the boot configuration file.
package archconst

const (
	// HigherHalfBase is the lowest virtual address considered "higher
	// half" on amd64 long mode (canonical negative half).
	HigherHalfBase uint64 = 0xFFFF_8000_0000_0000

	// DirectMapBase is the base of the fixed virtual window that linearly
	// maps all usable physical memory (§4.5).
	DirectMapBase uint64 = 0xFFFF_8880_0000_0000
)
