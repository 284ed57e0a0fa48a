// Package params holds the process-wide pipeline parameters consumed when
// elements render their pipeline fragments.
//
// A Store is an immutable value: buffering limits applied between stages,
// accelerator install paths, and diagnostic graph-dump settings. It is passed
// explicitly into element and composer calls; reconfiguration builds a new
// Store rather than mutating a shared one.
//
// # Defaults
//
//	queue-params:  max-buffers=3 max-bytes=0 max-time=0 leaky=no
//	hailo:         lib-folder-path=/hailo/gstreamer-libs
//	               base-model-folder-path=/hailo/models
//	               cropping-algorithm=whole-buffer
//	               wrapper=true
//	dot-graph:     save=false
//
// # Building from configuration
//
// FromMap reads the nested "gstreamer-utils" section of the pod configuration.
// Missing or unknown keys fall back to the defaults above:
//
//	store, err := params.FromMap(map[string]any{
//	    "queue-params": map[string]any{"max-buffers": 5, "leaky": "downstream"},
//	})
package params
