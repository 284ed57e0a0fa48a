package element

import (
	"fmt"
	"strings"

	"github.com/e7canasta/sensorpod/modules/params"
)

// Preprocess adapts source frames to the model input format
type Preprocess struct {
	base
	from Format
	to   Format
}

// NewPreprocess converts frames from the source output format to the model input format
func NewPreprocess(from, to Format) *Preprocess {
	return &Preprocess{base: base{name: "ai-pre-process"}, from: from, to: to}
}

func (p *Preprocess) Kind() Kind { return KindPreprocess }

// Needed reports whether a conversion stage is required
func (p *Preprocess) Needed() bool { return p.from != p.to }

// Fragment is empty when the source already produces the model input format
func (p *Preprocess) Fragment(ps params.Store) (string, error) {
	if !p.Needed() {
		return "", nil
	}
	n := p.name
	return strings.Join([]string{
		ps.Queue.Fragment(n + "_queue"),
		fmt.Sprintf("videoscale name=%s_videoscale n-threads=2", n),
		fmt.Sprintf("videoconvert name=%s_convert n-threads=2 qos=false", n),
		p.to.Caps() + ", pixel-aspect-ratio=1/1",
	}, " ! "), nil
}
