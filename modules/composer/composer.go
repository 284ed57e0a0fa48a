package composer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/e7canasta/sensorpod/modules/element"
	"github.com/e7canasta/sensorpod/modules/params"
)

var (
	ErrNoSource       = errors.New("pipeline has no source")
	ErrNoSink         = errors.New("pipeline has no sink")
	ErrSplitPair      = errors.New("model and postprocess must be configured together with the same wrapper")
	ErrDuplicateStage = errors.New("stage kind configured more than once")
	ErrStageOrder     = errors.New("stages out of order")
	ErrRender         = errors.New("stage fragment could not be rendered")
)

// CompositionError reports why a set of elements cannot form a pipeline
type CompositionError struct {
	Pipeline string
	// Stage is the offending element name, empty when the problem is a missing stage
	Stage string
	Err   error
}

func (e *CompositionError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("composer: pipeline %q stage %q: %v", e.Pipeline, e.Stage, e.Err)
	}
	return fmt.Sprintf("composer: pipeline %q: %v", e.Pipeline, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// Stage is one rendered element of a Description
type Stage struct {
	Name     string
	Kind     element.Kind
	Fragment string
}

// Description is the immutable result of Compose
type Description struct {
	name     string
	stages   []Stage
	tee      string
	branches []element.Branch
	graph    stageGraph
}

// Name is the pipeline name the description was composed for
func (d *Description) Name() string { return d.name }

// Stages returns the rendered stages in order, empty fragments excluded
func (d *Description) Stages() []Stage {
	out := make([]Stage, len(d.stages))
	copy(out, d.stages)
	return out
}

// Tee is the fan-out element name, empty when the sink has one endpoint
func (d *Description) Tee() string { return d.tee }

// Branches returns the sink fan-out metadata
func (d *Description) Branches() []element.Branch {
	out := make([]element.Branch, len(d.branches))
	copy(out, d.branches)
	return out
}

// String renders the parse-launch description
func (d *Description) String() string {
	parts := make([]string, len(d.stages))
	for i, s := range d.stages {
		parts[i] = s.Fragment
	}
	return strings.Join(parts, " ! ")
}

// Compose validates elems and renders them against p. Nil elements are
// unconfigured optional stages and are skipped.
func Compose(name string, p params.Store, elems ...element.Element) (*Description, error) {
	present := make([]element.Element, 0, len(elems))
	for _, e := range elems {
		if !isNil(e) {
			present = append(present, e)
		}
	}

	if err := check(name, present); err != nil {
		return nil, err
	}

	d := &Description{name: name}
	for _, e := range present {
		frag, err := e.Fragment(p)
		if err != nil {
			return nil, &CompositionError{Pipeline: name, Stage: e.Name(), Err: errors.Wrap(ErrRender, err.Error())}
		}
		if sink, ok := e.(*element.Sink); ok {
			d.tee = sink.TeeName()
			d.branches = sink.Branches()
		}
		if frag == "" {
			continue
		}
		d.stages = append(d.stages, Stage{Name: e.Name(), Kind: e.Kind(), Fragment: frag})
	}

	g, err := buildGraph(d.stages, d.branches)
	if err != nil {
		return nil, &CompositionError{Pipeline: name, Err: err}
	}
	d.graph = g
	return d, nil
}

func check(name string, elems []element.Element) error {
	fail := func(stage string, err error) error {
		return &CompositionError{Pipeline: name, Stage: stage, Err: err}
	}

	seen := make(map[element.Kind]element.Element, len(elems))
	last := element.Kind(-1)
	for _, e := range elems {
		k := e.Kind()
		if _, dup := seen[k]; dup {
			return fail(e.Name(), errors.Wrapf(ErrDuplicateStage, "%s", k))
		}
		if k < last {
			return fail(e.Name(), errors.Wrapf(ErrStageOrder, "%s after %s", k, last))
		}
		seen[k] = e
		last = k
	}

	if _, ok := seen[element.KindSource]; !ok {
		return fail("", ErrNoSource)
	}
	if _, ok := seen[element.KindSink]; !ok {
		return fail("", ErrNoSink)
	}

	m, hasModel := seen[element.KindModel]
	pp, hasPost := seen[element.KindPostprocess]
	switch {
	case hasModel != hasPost:
		stage := ""
		if hasModel {
			stage = m.Name()
		} else {
			stage = pp.Name()
		}
		return fail(stage, ErrSplitPair)
	case hasModel:
		mw := m.(*element.Model).Wrapper()
		pw := pp.(*element.Postprocess).Wrapper()
		if mw != pw {
			return fail(pp.Name(), errors.Wrapf(ErrSplitPair, "wrapper %q vs %q", mw, pw))
		}
	}
	return nil
}

// isNil catches typed nil pointers stored in the Element interface
func isNil(e element.Element) bool {
	switch v := e.(type) {
	case nil:
		return true
	case *element.Source:
		return v == nil
	case *element.Preprocess:
		return v == nil
	case *element.Model:
		return v == nil
	case *element.Postprocess:
		return v == nil
	case *element.Sink:
		return v == nil
	default:
		return false
	}
}
