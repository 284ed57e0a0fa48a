package element

import (
	"fmt"
	"strings"

	"github.com/e7canasta/sensorpod/modules/params"
)

// Kind identifies an element variant
type Kind int

const (
	KindSource Kind = iota
	KindPreprocess
	KindModel
	KindPostprocess
	KindSink
)

// String returns the lower-case variant name
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindPreprocess:
		return "preprocess"
	case KindModel:
		return "model"
	case KindPostprocess:
		return "postprocess"
	case KindSink:
		return "sink"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Element is one stage of the pipeline. Implementations live in this package only.
type Element interface {
	// Name is unique within one pipeline instance
	Name() string
	// Kind reports the variant
	Kind() Kind
	// Fragment renders this stage's part of the parse-launch description.
	// An empty fragment means the stage contributes nothing.
	Fragment(p params.Store) (string, error)

	sealed()
}

// Format describes raw video frames at a stage boundary
type Format struct {
	Format string
	Width  int
	Height int
}

// DefaultFormat is the canonical frame format fed to the accelerator
var DefaultFormat = Format{Format: "RGB", Width: 640, Height: 640}

// Caps renders the format as a raw-video caps filter
func (f Format) Caps() string {
	return fmt.Sprintf("video/x-raw, format=%s, width=%d, height=%d", f.Format, f.Width, f.Height)
}

// String returns e.g. "RGB 640x640"
func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d", f.Format, f.Width, f.Height)
}

// quotePath renders a path as a quoted parse-launch property value
func quotePath(path string) string {
	return `"` + pathEscaper.Replace(path) + `"`
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func (f Format) valid() bool {
	return f.Format != "" && f.Width > 0 && f.Height > 0
}

// base carries the fields shared by all variants
type base struct {
	name string
}

func (b base) Name() string { return b.name }

func (base) sealed() {}
