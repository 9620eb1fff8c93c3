// Package video picks a video mode from a config request against the
// modes a video service enumerates (§4.6).
package video

import (
	"fmt"

	hyperlog "github.com/hyperboot/hyper/pkg/log"
)

// Constraint selects how a requested mode is matched against the
// enumerated list.
type Constraint int

const (
	// AtLeast keeps the last mode that is >= the request in width,
	// height, and bpp, and <= the native resolution in width/height.
	AtLeast Constraint = iota
	Exactly
)

// Request is the parsed `video-mode` config value. A nil *Request means the
// key was absent, null, or "unset": skip video entirely.
type Request struct {
	Width      uint32
	Height     uint32
	BPP        uint32
	Constraint Constraint
}

// autoDefault is the "auto" shorthand: 1024x768 @ 32bpp, at-least (§4.6).
var autoDefault = Request{Width: 1024, Height: 768, BPP: 32, Constraint: AtLeast}

// Auto returns the request "auto" expands to.
func Auto() Request { return autoDefault }

// Mode is one entry a video service enumerates, in source/firmware order.
type Mode struct {
	Width  uint32
	Height uint32
	BPP    uint32

	// Framebuffer is the physical base address the service would set this
	// mode up with. Only meaningful once Set has been called.
	Framebuffer uint64
	Pitch       uint32
}

// Native is the native/preferred resolution reported by the service,
// bounding an at-least match's width/height.
type Native struct {
	Width  uint32
	Height uint32
}

// Service is the video capability a concrete firmware binding implements.
type Service interface {
	EnumerateModes() []Mode
	NativeResolution() Native
	SetMode(m Mode) error
}

// FramebufferInfo is copied into the attribute array on success (§6).
type FramebufferInfo struct {
	Address uint64
	Width   uint32
	Height  uint32
	BPP     uint32
	Pitch   uint32
}

// Pick resolves req against svc's enumerated modes, sets the chosen mode,
// and returns its framebuffer descriptor. req == nil means no mode was
// requested: Pick returns ok=false without touching svc.
//
// Enumeration order is whatever svc.EnumerateModes returns; for "at-least"
// the last candidate that still satisfies the bound wins, matching the
// source behavior of recording each improving candidate without breaking
// (§9 open question, resolved here as "trust enumeration order, last match
// wins").
func Pick(svc Service, req *Request) (*FramebufferInfo, bool) {
	if req == nil {
		return nil, false
	}

	modes := svc.EnumerateModes()
	native := svc.NativeResolution()

	var chosen *Mode
	for i := range modes {
		m := &modes[i]
		switch req.Constraint {
		case Exactly:
			if m.Width == req.Width && m.Height == req.Height && m.BPP == req.BPP {
				chosen = m
			}
		case AtLeast:
			if m.Width >= req.Width && m.Height >= req.Height && m.BPP >= req.BPP &&
				m.Width <= native.Width && m.Height <= native.Height {
				chosen = m
			}
		}
		if req.Constraint == Exactly && chosen != nil {
			break
		}
	}

	if chosen == nil {
		hyperlog.Fatalf("video: no mode satisfies request %+v (native %dx%d)", *req, native.Width, native.Height)
		return nil, false
	}

	if err := svc.SetMode(*chosen); err != nil {
		hyperlog.Fatalf("video: setting mode %dx%d@%d failed: %v", chosen.Width, chosen.Height, chosen.BPP, err)
		return nil, false
	}

	return &FramebufferInfo{
		Address: chosen.Framebuffer,
		Width:   chosen.Width,
		Height:  chosen.Height,
		BPP:     chosen.BPP,
		Pitch:   chosen.Pitch,
	}, true
}

func (r Request) String() string {
	cstr := "at-least"
	if r.Constraint == Exactly {
		cstr = "exactly"
	}
	return fmt.Sprintf("%dx%d@%d(%s)", r.Width, r.Height, r.BPP, cstr)
}
