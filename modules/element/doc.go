// Package element defines the typed stages of a pod media pipeline.
//
// Every stage is an Element: a named node that renders one fragment of a
// GStreamer parse-launch description. The set of variants is closed:
//
//	Source       capture from file, local camera, device node, UDP port or network URI
//	Preprocess   format/size normalization before inference (empty when not needed)
//	Model        accelerator inference, optionally wrapped in a crop/aggregate subgraph
//	Postprocess  accelerator output filtering, closes the wrapper opened by Model
//	Sink         overlay, conversion, and one or more terminal endpoints (tee fan-out)
//
// Fragments are pure functions of the element's fields and the params.Store
// passed at render time, so they are recomputed on every composition.
//
// Model and Postprocess share a wrapper instance name and must be built
// together with NewModelPair.
package element
