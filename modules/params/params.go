package params

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Leaky is the drop policy of a bounded queue between two stages
type Leaky string

const (
	// LeakyNo blocks upstream when the queue is full (backpressure)
	LeakyNo Leaky = "no"
	// LeakyUpstream drops incoming buffers when the queue is full
	LeakyUpstream Leaky = "upstream"
	// LeakyDownstream drops the oldest queued buffers when the queue is full
	LeakyDownstream Leaky = "downstream"
)

const (
	DefaultLibDir            = "/hailo/gstreamer-libs"
	DefaultBaseModelDir      = "/hailo/models"
	DefaultCroppingAlgorithm = "whole-buffer"

	wholeBufferLib = "libwhole_buffer.so"
)

// Queue bounds the memory held between two adjacent stages
type Queue struct {
	MaxBuffers int   `validate:"gte=0"`
	MaxBytes   int   `validate:"gte=0"`
	MaxTimeNs  int64 `validate:"gte=0"`
	Leaky      Leaky `validate:"oneof=no upstream downstream"`
}

// Accelerator locates the accelerator assets on disk
type Accelerator struct {
	// LibDir holds the post-process and cropping shared objects
	LibDir string `validate:"required"`
	// BaseModelDir holds compiled model binaries and their JSON configs
	BaseModelDir string `validate:"required"`
	// CroppingAlgorithm selects the cropper shared object
	CroppingAlgorithm string `validate:"oneof=whole-buffer"`
	// Wrapper enables the crop/aggregate subgraph around inference
	Wrapper bool
}

// DotGraph controls diagnostic graph dumps
type DotGraph struct {
	Save bool
	Dir  string
}

// Store is the immutable parameter set used at composition time
type Store struct {
	Queue       Queue       `validate:"required"`
	Accelerator Accelerator `validate:"required"`
	DotGraph    DotGraph
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Default returns the built-in parameters
func Default() Store {
	return Store{
		Queue: Queue{
			MaxBuffers: 3,
			MaxBytes:   0,
			MaxTimeNs:  0,
			Leaky:      LeakyNo,
		},
		Accelerator: Accelerator{
			LibDir:            DefaultLibDir,
			BaseModelDir:      DefaultBaseModelDir,
			CroppingAlgorithm: DefaultCroppingAlgorithm,
			Wrapper:           true,
		},
	}
}

// Option adjusts a Store under construction
type Option func(*Store)

// WithQueue replaces the queue parameters
func WithQueue(q Queue) Option {
	return func(s *Store) { s.Queue = q }
}

// WithAccelerator replaces the accelerator paths
func WithAccelerator(a Accelerator) Option {
	return func(s *Store) { s.Accelerator = a }
}

// WithDotGraph replaces the graph dump settings
func WithDotGraph(d DotGraph) Option {
	return func(s *Store) { s.DotGraph = d }
}

// WithWrapper toggles the crop/aggregate wrapper subgraph
func WithWrapper(enabled bool) Option {
	return func(s *Store) { s.Accelerator.Wrapper = enabled }
}

// New builds a validated Store from the defaults and the given options
func New(opts ...Option) (Store, error) {
	return Default().With(opts...)
}

// With returns a copy of s with opts applied. The receiver is left untouched.
func (s Store) With(opts ...Option) (Store, error) {
	next := s
	for _, opt := range opts {
		opt(&next)
	}
	if err := next.Validate(); err != nil {
		return Store{}, err
	}
	return next, nil
}

// Validate checks the store against its field constraints
func (s Store) Validate() error {
	if err := getValidator().Struct(s); err != nil {
		return errors.Wrap(err, "params: invalid pipeline parameters")
	}
	return nil
}

// CroppingPath is the absolute path of the cropper shared object
func (a Accelerator) CroppingPath() string {
	// whole-buffer is the only cropper shipped with the accelerator libs
	return filepath.Join(a.LibDir, wholeBufferLib)
}

// ModelPath resolves a model asset name against BaseModelDir
func (a Accelerator) ModelPath(name string) string {
	return filepath.Join(a.BaseModelDir, name)
}

// LibPath resolves a shared object name against LibDir
func (a Accelerator) LibPath(name string) string {
	return filepath.Join(a.LibDir, name)
}

// Enabled reports whether dumps were requested and Dir is an existing directory.
// The returned error explains why a requested dump is unusable.
func (d DotGraph) Enabled() (bool, error) {
	if !d.Save {
		return false, nil
	}
	info, err := os.Stat(d.Dir)
	if err != nil || !info.IsDir() {
		return false, fmt.Errorf("dot-graph dpath does not point to a directory: %q", d.Dir)
	}
	return true, nil
}

// Fragment renders a queue stage with the given element name
func (q Queue) Fragment(name string) string {
	return fmt.Sprintf(
		"queue name=%s leaky=%s max-size-buffers=%d max-size-bytes=%d max-size-time=%d",
		name, q.Leaky, q.MaxBuffers, q.MaxBytes, q.MaxTimeNs,
	)
}

// FromMap builds a Store from the nested gstreamer-utils configuration section.
// Keys: queue-params{leaky,max-buffers,max-bytes,max-time},
// dot-graph{save,dpath}, hailo{lib-folder-path,base-model-folder-path,
// cropping-algorithm,wrapper}. Missing keys keep their defaults.
func FromMap(section map[string]any) (Store, error) {
	s := Default()
	if section == nil {
		return s, nil
	}

	if qp, ok := subMap(section, "queue-params"); ok {
		var err error
		if s.Queue.Leaky, err = leakyValue(qp, "leaky", s.Queue.Leaky); err != nil {
			return Store{}, err
		}
		if s.Queue.MaxBuffers, err = intValue(qp, "max-buffers", s.Queue.MaxBuffers); err != nil {
			return Store{}, err
		}
		if s.Queue.MaxBytes, err = intValue(qp, "max-bytes", s.Queue.MaxBytes); err != nil {
			return Store{}, err
		}
		maxTime, err := intValue(qp, "max-time", int(s.Queue.MaxTimeNs))
		if err != nil {
			return Store{}, err
		}
		s.Queue.MaxTimeNs = int64(maxTime)
	}

	if dg, ok := subMap(section, "dot-graph"); ok {
		save, err := boolValue(dg, "save", false)
		if err != nil {
			return Store{}, err
		}
		s.DotGraph = DotGraph{Save: save, Dir: cast.ToString(dg["dpath"])}
	}

	if hc, ok := subMap(section, "hailo"); ok {
		if v := cast.ToString(hc["lib-folder-path"]); v != "" {
			s.Accelerator.LibDir = v
		}
		if v := cast.ToString(hc["base-model-folder-path"]); v != "" {
			s.Accelerator.BaseModelDir = v
		}
		if v := cast.ToString(hc["cropping-algorithm"]); v != "" {
			s.Accelerator.CroppingAlgorithm = v
		}
		wrapper, err := boolValue(hc, "wrapper", s.Accelerator.Wrapper)
		if err != nil {
			return Store{}, err
		}
		s.Accelerator.Wrapper = wrapper
	}

	if err := s.Validate(); err != nil {
		return Store{}, err
	}
	return s, nil
}

func subMap(m map[string]any, key string) (map[string]any, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, false
	}
	sub, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, false
	}
	return sub, true
}

func intValue(m map[string]any, key string, def int) (int, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "params: %s", key)
	}
	return v, nil
}

func boolValue(m map[string]any, key string, def bool) (bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return false, errors.Wrapf(err, "params: %s", key)
	}
	return v, nil
}

func leakyValue(m map[string]any, key string, def Leaky) (Leaky, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return def, nil
	}
	// YAML 1.1 parsers may hand back "no" as a bool
	if b, isBool := raw.(bool); isBool && !b {
		return LeakyNo, nil
	}
	switch l := Leaky(cast.ToString(raw)); l {
	case LeakyNo, LeakyUpstream, LeakyDownstream:
		return l, nil
	default:
		return "", errors.Errorf("params: %s must be one of no, upstream, downstream (got %q)", key, raw)
	}
}
