package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"hef_missing", "Failed to create VDevice", "hailonet", ErrCategoryAccelerator},
		{"not_negotiated", "Internal data stream error.", "streaming stopped, reason not-negotiated: not negotiated", ErrCategoryCodec},
		{"file_missing", "Resource not found.", "Could not open file \"clip.mp4\" for reading: No such file", ErrCategoryResource},
		{"rtsp_unreachable", "Could not open resource for reading.", "rtspsrc: could not connect to server", ErrCategoryResource},
		{"udp_socket", "Could not get/set settings from/on resource.", "udpsink: socket error", ErrCategoryNetwork},
		{"unclassified", "Internal error", "", ErrCategoryUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.message, tc.debug))
		})
	}
}

func TestErrorCategoryString(t *testing.T) {
	assert.Equal(t, "accelerator", ErrCategoryAccelerator.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}
