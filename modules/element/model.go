package element

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/e7canasta/sensorpod/modules/params"
)

// ModelType selects an entry of the model catalogue
type ModelType string

const (
	ObjectDetectionYoloV8 ModelType = "object-detection-yolov8"
	InstanceSegmentation  ModelType = "instance-segmentation"
	PoseEstimation        ModelType = "pose-estimation"
)

// ModelConfiguration describes the accelerator assets of one model
type ModelConfiguration struct {
	Type               ModelType
	BinaryName         string
	Width              int
	Height             int
	ColorFormat        string
	BatchSize          int
	PostFilterName     string
	PostFilterFunction string
	// ConfigFileName is optional and resolved against the model folder
	ConfigFileName string
}

// InputFormat is the frame format the model expects
func (c ModelConfiguration) InputFormat() Format {
	return Format{Format: c.ColorFormat, Width: c.Width, Height: c.Height}
}

var catalogue = map[ModelType]ModelConfiguration{
	ObjectDetectionYoloV8: {
		Type:               ObjectDetectionYoloV8,
		BinaryName:         "yolov8s_h8l.hef",
		Width:              640,
		Height:             640,
		ColorFormat:        "RGB",
		BatchSize:          2,
		PostFilterName:     "libyolo_hailortpp_postprocess.so",
		PostFilterFunction: "filter",
	},
	InstanceSegmentation: {
		Type:               InstanceSegmentation,
		BinaryName:         "yolov5n_seg_h8l_mz.hef",
		Width:              640,
		Height:             640,
		ColorFormat:        "RGB",
		BatchSize:          2,
		PostFilterName:     "libyolov5seg_postprocess.so",
		PostFilterFunction: "yolov5seg",
		ConfigFileName:     "yolov5n_seg.json",
	},
	PoseEstimation: {
		Type:               PoseEstimation,
		BinaryName:         "yolov8s_pose_h8l.hef",
		Width:              640,
		Height:             640,
		ColorFormat:        "RGB",
		BatchSize:          2,
		PostFilterName:     "libyolov8pose_postprocess.so",
		PostFilterFunction: "filter",
	},
}

// ParseModelType accepts catalogue names in either kebab or upper snake case
// (POSE_ESTIMATION, pose-estimation).
func ParseModelType(s string) (ModelType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
	if norm == "object-detection-yolo-v8" {
		norm = string(ObjectDetectionYoloV8)
	}
	if _, ok := catalogue[ModelType(norm)]; !ok {
		return "", errors.Wrapf(ErrUnknownModel, "%q", s)
	}
	return ModelType(norm), nil
}

// ModelTypes lists the catalogue in stable order
func ModelTypes() []ModelType {
	types := make([]ModelType, 0, len(catalogue))
	for t := range catalogue {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Lookup returns the catalogue entry for t
func Lookup(t ModelType) (ModelConfiguration, error) {
	cfg, ok := catalogue[t]
	if !ok {
		return ModelConfiguration{}, errors.Wrapf(ErrUnknownModel, "%q", string(t))
	}
	return cfg, nil
}

// ResolvedModel carries absolute asset paths that were checked to exist
type ResolvedModel struct {
	ModelConfiguration
	BinaryPath     string
	PostFilterPath string
	ConfigPath     string
}

// Resolve locates the model assets under acc and checks every one exists
func (c ModelConfiguration) Resolve(acc params.Accelerator) (ResolvedModel, error) {
	r := ResolvedModel{
		ModelConfiguration: c,
		BinaryPath:         acc.ModelPath(c.BinaryName),
		PostFilterPath:     acc.LibPath(c.PostFilterName),
	}
	if c.ConfigFileName != "" {
		r.ConfigPath = acc.ModelPath(c.ConfigFileName)
	}

	required := []string{r.BinaryPath, r.PostFilterPath}
	if r.ConfigPath != "" {
		required = append(required, r.ConfigPath)
	}
	if acc.Wrapper {
		required = append(required, acc.CroppingPath())
	}
	for _, path := range required {
		if !isRegularFile(path) {
			return ResolvedModel{}, errors.Wrapf(ErrFileNotFound, "%s asset %s", c.Type, path)
		}
	}
	return r, nil
}

// Model runs inference on the accelerator
type Model struct {
	base
	model   ResolvedModel
	wrapper string
}

// Postprocess filters accelerator output and closes the wrapper subgraph
type Postprocess struct {
	base
	model   ResolvedModel
	wrapper string
}

// PairOption configures NewModelPair
type PairOption func(*pairConfig)

type pairConfig struct {
	modelName string
	postName  string
	wrapper   string
}

// WithWrapperName overrides the wrapper instance name (default "wrapper")
func WithWrapperName(name string) PairOption {
	return func(c *pairConfig) { c.wrapper = name }
}

// WithModelName overrides the Model element name (default "model")
func WithModelName(name string) PairOption {
	return func(c *pairConfig) { c.modelName = name }
}

// WithPostprocessName overrides the Postprocess element name (default "ai-post-process")
func WithPostprocessName(name string) PairOption {
	return func(c *pairConfig) { c.postName = name }
}

// NewModelPair resolves cfg and builds the Model and Postprocess that share
// one wrapper instance. Missing assets fail with ErrFileNotFound.
func NewModelPair(cfg ModelConfiguration, acc params.Accelerator, opts ...PairOption) (*Model, *Postprocess, error) {
	pc := pairConfig{modelName: "model", postName: "ai-post-process", wrapper: "wrapper"}
	for _, opt := range opts {
		opt(&pc)
	}

	resolved, err := cfg.Resolve(acc)
	if err != nil {
		return nil, nil, err
	}

	m := &Model{base: base{name: pc.modelName}, model: resolved, wrapper: pc.wrapper}
	p := &Postprocess{base: base{name: pc.postName}, model: resolved, wrapper: pc.wrapper}
	return m, p, nil
}

func (m *Model) Kind() Kind { return KindModel }

// Wrapper returns the wrapper instance name shared with the Postprocess
func (m *Model) Wrapper() string { return m.wrapper }

// Resolved returns the resolved model assets
func (m *Model) Resolved() ResolvedModel { return m.model }

// Fragment renders the optional wrapper head followed by inference
func (m *Model) Fragment(p params.Store) (string, error) {
	q := p.Queue
	n := m.name
	inference := strings.Join([]string{
		q.Fragment(n + "_queue_scale"),
		fmt.Sprintf("videoscale name=%s_videoscale n-threads=2 qos=false", n),
		q.Fragment(n + "_queue_aspect"),
		fmt.Sprintf("videoconvert name=%s_videoconvert n-threads=2", n),
		"video/x-raw, pixel-aspect-ratio=1/1",
		q.Fragment(n + "_queue_hailo"),
		fmt.Sprintf("hailonet name=%s_hailonet hef-path=%s batch-size=%d force-writable=true",
			n, quotePath(m.model.BinaryPath), m.model.BatchSize),
	}, " ! ")

	if !p.Accelerator.Wrapper {
		return inference, nil
	}

	w := m.wrapper
	// cropper pad 0 bypasses inference into aggregator sink_0; pad 1 feeds inference
	head := strings.Join([]string{
		q.Fragment(w+"_queue_input") + " ! " +
			fmt.Sprintf("hailocropper name=%s_crop so-path=%s function-name=create_crops use-letterbox=true resize-method=inter-area internal-offset=true",
				w, quotePath(p.Accelerator.CroppingPath())),
		fmt.Sprintf("hailoaggregator name=%s_agg", w),
		fmt.Sprintf("%s_crop. ! %s ! %s_agg.sink_0", w, q.Fragment(w+"_queue_bypass"), w),
		w + "_crop.",
	}, " ")
	return head + " ! " + inference, nil
}

func (p *Postprocess) Kind() Kind { return KindPostprocess }

// Wrapper returns the wrapper instance name shared with the Model
func (p *Postprocess) Wrapper() string { return p.wrapper }

// Fragment renders the output filter and, when wrapped, the aggregator rejoin
func (p *Postprocess) Fragment(ps params.Store) (string, error) {
	q := ps.Queue
	n := p.name

	filter := fmt.Sprintf("hailofilter name=%s_hailofilter so-path=%s", n, quotePath(p.model.PostFilterPath))
	if p.model.ConfigPath != "" {
		filter += " config-path=" + quotePath(p.model.ConfigPath)
	}
	filter += fmt.Sprintf(" function-name=%s qos=false", p.model.PostFilterFunction)

	out := q.Fragment(n+"_queue_filter") + " ! " + filter
	if !ps.Accelerator.Wrapper {
		return out, nil
	}

	w := p.wrapper
	return out + fmt.Sprintf(" ! %s_agg.sink_1 %s_agg. ! ", w, w) + q.Fragment(n+"_queue_postproc_output"), nil
}
