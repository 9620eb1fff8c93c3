// Package loader orchestrates the boot pipeline's linear state machine
// (§4.8): Init -> ConfigParsed -> EntrySelected -> KernelLoaded ->
// ModulesLoaded -> PagingBuilt -> StackReady -> VideoSet -> ArrayBuilt ->
// HandoverArmed -> Jumped. Every transition is forward-only; any failure is
// fatal and halts via pkg/log.
package loader

import (
	"fmt"

	hyperlog "github.com/hyperboot/hyper/pkg/log"
)

// State names a point in the boot pipeline (§4.8).
type State int

const (
	Init State = iota
	ConfigParsed
	EntrySelected
	KernelLoaded
	ModulesLoaded
	PagingBuilt
	StackReady
	VideoSet
	ArrayBuilt
	HandoverArmed
	Jumped
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case ConfigParsed:
		return "ConfigParsed"
	case EntrySelected:
		return "EntrySelected"
	case KernelLoaded:
		return "KernelLoaded"
	case ModulesLoaded:
		return "ModulesLoaded"
	case PagingBuilt:
		return "PagingBuilt"
	case StackReady:
		return "StackReady"
	case VideoSet:
		return "VideoSet"
	case ArrayBuilt:
		return "ArrayBuilt"
	case HandoverArmed:
		return "HandoverArmed"
	case Jumped:
		return "Jumped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// order is the single forward path every boot takes; nextOf reports false
// past the last state, and Advance then halts via Fatalf.
var order = []State{
	Init, ConfigParsed, EntrySelected, KernelLoaded, ModulesLoaded,
	PagingBuilt, StackReady, VideoSet, ArrayBuilt, HandoverArmed, Jumped,
}

// Step is one named unit of work the machine runs to advance from one
// state to the next. A Step's error return is always fatal: there is no
// retry or recovery path in this boot protocol (§5, §7).
type Step struct {
	Name string
	Run  func() error
}

// Machine drives the linear state sequence, halting via pkg/log on the
// first failing step.
type Machine struct {
	current State
	log     hyperlog.Logger
}

// New creates a Machine starting at Init, logging through logger (nil uses
// the process-wide default).
func New(logger hyperlog.Logger) *Machine {
	if logger == nil {
		logger = hyperlog.DefaultLogger
	}
	return &Machine{current: Init, log: logger}
}

// Current reports the machine's current state.
func (m *Machine) Current() State { return m.current }

// Advance runs step and, on success, moves the machine to the state that
// immediately follows the current one in the fixed order. On failure it
// logs and halts (via Fatalf) rather than returning to the caller, since
// every documented error kind in this protocol is fatal (§7).
func (m *Machine) Advance(step Step) {
	if err := step.Run(); err != nil {
		m.log.Fatalf("loader: step %q failed in state %s: %v", step.Name, m.current, err)
		return
	}
	next, ok := nextOf(m.current)
	if !ok {
		m.log.Fatalf("loader: no transition defined out of terminal state %s", m.current)
		return
	}
	m.current = next
}

func nextOf(s State) (State, bool) {
	for i, st := range order {
		if st == s {
			if i+1 < len(order) {
				return order[i+1], true
			}
			return s, false
		}
	}
	return s, false
}

// Run executes steps in order, advancing the machine after each. It stops
// (without returning an error, since Advance already halted the process)
// if a step's Run ever returns non-nil in a real binding; in tests, where
// pkg/log's Halter is swapped for one that panics instead of looping
// forever, Run simply never returns past the failing Advance call.
func (m *Machine) Run(steps []Step) {
	for _, step := range steps {
		m.Advance(step)
	}
}
