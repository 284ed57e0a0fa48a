package composer

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/sensorpod/modules/element"
	"github.com/e7canasta/sensorpod/modules/params"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))
	return path
}

type fixture struct {
	params params.Store
	source *element.Source
	pre    *element.Preprocess
	model  *element.Model
	post   *element.Postprocess
	sink   *element.Sink
}

func newFixture(t *testing.T, sinks ...string) fixture {
	t.Helper()
	root := t.TempDir()
	acc := params.Accelerator{
		LibDir:            filepath.Join(root, "libs"),
		BaseModelDir:      filepath.Join(root, "models"),
		CroppingAlgorithm: params.DefaultCroppingAlgorithm,
		Wrapper:           true,
	}
	cfg, err := element.Lookup(element.PoseEstimation)
	require.NoError(t, err)
	touch(t, acc.CroppingPath())
	touch(t, acc.ModelPath(cfg.BinaryName))
	touch(t, acc.LibPath(cfg.PostFilterName))

	p, err := params.New(params.WithAccelerator(acc))
	require.NoError(t, err)

	src, err := element.NewSource(touch(t, filepath.Join(root, "clip.mp4")))
	require.NoError(t, err)
	model, post, err := element.NewModelPair(cfg, acc)
	require.NoError(t, err)
	if len(sinks) == 0 {
		sinks = []string{"out.h264"}
	}
	sink, err := element.NewSink(sinks, element.WithOverlay(true))
	require.NoError(t, err)

	return fixture{
		params: p,
		source: src,
		pre:    element.NewPreprocess(element.Format{Format: "NV12", Width: 1920, Height: 1080}, cfg.InputFormat()),
		model:  model,
		post:   post,
		sink:   sink,
	}
}

func TestComposeOrdersAllStages(t *testing.T) {
	f := newFixture(t)

	d, err := Compose("pod", f.params, f.source, f.pre, f.model, f.post, f.sink)
	require.NoError(t, err)

	var kinds []element.Kind
	for _, s := range d.Stages() {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []element.Kind{
		element.KindSource, element.KindPreprocess, element.KindModel, element.KindPostprocess, element.KindSink,
	}, kinds)

	text := d.String()
	assert.True(t, strings.HasPrefix(text, "filesrc "))
	assert.Less(t, strings.Index(text, "hailonet"), strings.Index(text, "hailofilter"))
	assert.Less(t, strings.Index(text, "hailofilter"), strings.Index(text, "hailooverlay"))
	assert.Empty(t, d.Tee())
}

func TestComposeSkipsUnsetStages(t *testing.T) {
	f := newFixture(t)
	var pre *element.Preprocess
	var model *element.Model
	var post *element.Postprocess

	d, err := Compose("record", f.params, f.source, pre, model, post, nil, f.sink)
	require.NoError(t, err)
	require.Len(t, d.Stages(), 2)
	assert.NotContains(t, d.String(), "hailonet")
}

func TestComposeDropsEmptyFragments(t *testing.T) {
	f := newFixture(t)
	same := element.NewPreprocess(element.DefaultFormat, element.DefaultFormat)

	d, err := Compose("pod", f.params, f.source, same, f.model, f.post, f.sink)
	require.NoError(t, err)
	assert.Len(t, d.Stages(), 4)
	assert.NotContains(t, d.String(), "! !")
}

func TestComposeErrors(t *testing.T) {
	f := newFixture(t)
	cfg, _ := element.Lookup(element.PoseEstimation)
	_, otherPost, err := element.NewModelPair(cfg, f.params.Accelerator, element.WithWrapperName("other"))
	require.NoError(t, err)

	testCases := []struct {
		name  string
		elems []element.Element
		want  error
	}{
		{"no_source", []element.Element{f.model, f.post, f.sink}, ErrNoSource},
		{"no_sink", []element.Element{f.source, f.model, f.post}, ErrNoSink},
		{"model_without_post", []element.Element{f.source, f.model, f.sink}, ErrSplitPair},
		{"post_without_model", []element.Element{f.source, f.post, f.sink}, ErrSplitPair},
		{"mismatched_wrappers", []element.Element{f.source, f.model, otherPost, f.sink}, ErrSplitPair},
		{"duplicate_source", []element.Element{f.source, f.source, f.sink}, ErrDuplicateStage},
		{"sink_before_source", []element.Element{f.sink, f.source}, ErrStageOrder},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compose("pod", f.params, tc.elems...)
			require.Error(t, err)

			var cerr *CompositionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "pod", cerr.Pipeline)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestComposeHonorsNewParams(t *testing.T) {
	f := newFixture(t)
	first, err := Compose("pod", f.params, f.source, f.sink)
	require.NoError(t, err)

	leaky, err := f.params.With(params.WithQueue(params.Queue{MaxBuffers: 8, Leaky: params.LeakyDownstream}))
	require.NoError(t, err)
	second, err := Compose("pod", leaky, f.source, f.sink)
	require.NoError(t, err)

	assert.Contains(t, first.String(), "leaky=no max-size-buffers=3")
	assert.Contains(t, second.String(), "leaky=downstream max-size-buffers=8")
}

func TestComposeFanOut(t *testing.T) {
	f := newFixture(t, "display", "rtsp://10.0.0.5:5000")

	d, err := Compose("pod", f.params, f.source, f.sink)
	require.NoError(t, err)

	assert.Equal(t, "sink_tee", d.Tee())
	assert.Equal(t, 1, strings.Count(d.String(), "tee name="))
	branches := d.Branches()
	require.Len(t, branches, 2)
	assert.Equal(t, element.EndpointDisplay, branches[0].Endpoint.Kind)
	assert.Equal(t, element.EndpointNetwork, branches[1].Endpoint.Kind)
	assert.NotEqual(t, branches[0].Queue, branches[1].Queue)
}

func TestStageGraph(t *testing.T) {
	f := newFixture(t, "display", "out.h264")
	d, err := Compose("pod", f.params, f.source, f.model, f.post, f.sink)
	require.NoError(t, err)

	order, err := d.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "model", "ai-post-process", "sink"}, order[:4])
	assert.ElementsMatch(t, []string{"sink_filesink1", "sink_xvimagesink_with_fps0"}, order[4:])

	var buf bytes.Buffer
	require.NoError(t, d.WriteDot(&buf))
	assert.Contains(t, buf.String(), "digraph")
	assert.Contains(t, buf.String(), "sink_tee_queue1")

	path, err := d.WriteDotFile(t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "pod.stages.dot", filepath.Base(path))
}
