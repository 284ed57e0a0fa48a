package pipeline

import "strings"

// ErrorCategory represents the classification of engine errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryAccelerator indicates inference device or post-process library failures
	ErrCategoryAccelerator ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryResource indicates files or devices that cannot be opened or written
	ErrCategoryResource
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryAccelerator:
		return "accelerator"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// MarshalText renders the category name
func (e ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

var (
	acceleratorKeywords = []string{
		"hailo",
		"hef",
		"vdevice",
		"so-path",
		"function-name",
		"postprocess",
	}
	codecKeywords = []string{
		"codec",
		"decode",
		"encode",
		"negotiation",
		"not negotiated",
		"caps",
		"h264",
		"no decoder",
		"missing plugin",
		"demux",
	}
	resourceKeywords = []string{
		"could not open",
		"no such file",
		"permission denied",
		"resource busy",
		"device",
		"no space left",
		"could not write",
	}
	networkKeywords = []string{
		"connection",
		"timeout",
		"unreachable",
		"network",
		"resolve",
		"socket",
		"rtsp",
		"udp",
		"could not connect",
	}
)

// ClassifyError categorizes an engine error by keyword heuristics.
// The most specific categories are checked first.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, acceleratorKeywords):
		return ErrCategoryAccelerator
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
