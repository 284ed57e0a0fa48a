package element

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/sensorpod/modules/params"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))
	return path
}

func TestClassifySource(t *testing.T) {
	dir := t.TempDir()
	clip := touch(t, filepath.Join(dir, "clip.mp4"))

	testCases := []struct {
		name  string
		id    string
		shape SourceShape
	}{
		{"existing_file", clip, ShapeFile},
		{"camera_index", "cam0", ShapeCamera},
		{"camera_sensor_id", "/base/soc/i2c0mux/i2c@1/imx219@10", ShapeCamera},
		{"device_marker", "/dev/video0", ShapeDevice},
		{"scheme_port", "rtsp:5000", ShapeUDP},
		{"network_uri", "rtsp://10.0.0.5:8554/stream", ShapeNetworkURI},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shape, err := ClassifySource(tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.shape, shape)
		})
	}
}

func TestClassifySourceRejects(t *testing.T) {
	testCases := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"missing_file", "/nonexistent/clip.mp4"},
		{"port_not_numeric", "rtsp:abc"},
		{"port_out_of_range", "rtsp:70000"},
		{"uri_without_port", "rtsp://10.0.0.5/stream"},
		{"uri_without_host", "rtsp://:8554/stream"},
		{"unsupported_scheme", "ftp://10.0.0.5:21/file"},
		{"garbage", "not a source"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ClassifySource(tc.id)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedSource)
		})
	}
}

func TestSourceFragment(t *testing.T) {
	p := params.Default()

	t.Run("container_file_demuxes_video_pad", func(t *testing.T) {
		clip := touch(t, filepath.Join(t.TempDir(), "clip.mp4"))
		s, err := NewSource(clip)
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(frag, `filesrc location="`+clip+`" name=source ! qtdemux name=source_qtdemux source_qtdemux.video_0 ! `))
		assert.Contains(t, frag, "queue name=source_queue_dec264")
		assert.Contains(t, frag, "h264parse ! avdec_h264 max-threads=2")
		assert.True(t, strings.HasSuffix(frag, "video/x-raw, format=RGB, pixel-aspect-ratio=1/1"))
	})

	t.Run("raw_h264_file_skips_demux", func(t *testing.T) {
		clip := touch(t, filepath.Join(t.TempDir(), "clip.h264"))
		s, err := NewSource(clip)
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.NotContains(t, frag, "qtdemux")
	})

	t.Run("camera_uses_capture_caps", func(t *testing.T) {
		capture := Format{Format: "RGB", Width: 1280, Height: 720}
		s, err := NewSource("cam1", WithCaptureFormat(capture))
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(frag, "libcamerasrc name=source camera-name=cam1 ! video/x-raw, format=RGB, width=1280, height=720 ! "))
		assert.Contains(t, frag, "video/x-raw, width=640, height=640")
	})

	t.Run("udp_port", func(t *testing.T) {
		s, err := NewSource("rtsp:5000", WithSourceName("cam"))
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(frag, "udpsrc name=cam port=5000 ! application/x-rtp,clock-rate=90000,payload=96 ! rtph264depay"))
		assert.Contains(t, frag, "queue name=cam_queue_scale")
	})

	t.Run("device_marker", func(t *testing.T) {
		s, err := NewSource("/dev/video2")
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.Contains(t, frag, "v4l2src name=source device=/dev/video2")
	})

	t.Run("network_uri", func(t *testing.T) {
		s, err := NewSource("rtsp://10.0.0.5:8554/live")
		require.NoError(t, err)

		frag, err := s.Fragment(p)
		require.NoError(t, err)
		assert.Contains(t, frag, "rtspsrc name=source location=rtsp://10.0.0.5:8554/live latency=200")
	})
}

func TestNewSourceRejectsInvalidFormat(t *testing.T) {
	_, err := NewSource("cam0", WithOutputFormat(Format{Format: "RGB"}))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestPreprocess(t *testing.T) {
	p := params.Default()

	t.Run("matching_formats_render_nothing", func(t *testing.T) {
		pre := NewPreprocess(DefaultFormat, DefaultFormat)
		assert.False(t, pre.Needed())

		frag, err := pre.Fragment(p)
		require.NoError(t, err)
		assert.Empty(t, frag)
	})

	t.Run("mismatch_converts_to_model_input", func(t *testing.T) {
		pre := NewPreprocess(Format{Format: "NV12", Width: 1280, Height: 720}, DefaultFormat)
		assert.True(t, pre.Needed())

		frag, err := pre.Fragment(p)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(frag, "queue name=ai-pre-process_queue"))
		assert.True(t, strings.HasSuffix(frag, "video/x-raw, format=RGB, width=640, height=640, pixel-aspect-ratio=1/1"))
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "postprocess", KindPostprocess.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
