package element

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/e7canasta/sensorpod/modules/params"
)

// DisplayEndpoint is the literal that selects the local display
const DisplayEndpoint = "display"

// EndpointKind is the terminal shape of one sink endpoint
type EndpointKind int

const (
	EndpointDisplay EndpointKind = iota
	EndpointNetwork
	EndpointFile
)

// String returns a human-readable endpoint kind
func (k EndpointKind) String() string {
	switch k {
	case EndpointDisplay:
		return "display"
	case EndpointNetwork:
		return "network"
	case EndpointFile:
		return "file"
	default:
		return "unknown"
	}
}

var sinkSchemes = map[string]bool{"http": true, "https": true, "rtsp": true, "rtsps": true}

// Endpoint is one classified sink identifier
type Endpoint struct {
	ID   string
	Kind EndpointKind
	Host string
	Port int
}

// ClassifySink decides the terminal shape of id without touching the filesystem
func ClassifySink(id string) (Endpoint, error) {
	switch {
	case strings.TrimSpace(id) == "":
		return Endpoint{}, errors.Wrap(ErrInvalidSink, "empty identifier")
	case strings.EqualFold(id, DisplayEndpoint):
		return Endpoint{ID: id, Kind: EndpointDisplay}, nil
	case isNetworkSink(id):
		host, port, err := networkHostPort(id, sinkSchemes)
		if err != nil {
			return Endpoint{}, errors.Wrapf(ErrInvalidSink, "%q: %v", id, err)
		}
		return Endpoint{ID: id, Kind: EndpointNetwork, Host: host, Port: port}, nil
	default:
		return Endpoint{ID: id, Kind: EndpointFile}, nil
	}
}

func isNetworkSink(id string) bool {
	lower := strings.ToLower(id)
	return strings.HasPrefix(lower, "http") || strings.HasPrefix(lower, "rtsp")
}

// ValidateSink classifies id and, for file endpoints, probes that the path is writable
func ValidateSink(id string) (Endpoint, error) {
	ep, err := ClassifySink(id)
	if err != nil {
		return Endpoint{}, err
	}
	if ep.Kind == EndpointFile {
		if err := ProbeSink(id); err != nil {
			return Endpoint{}, err
		}
	}
	return ep, nil
}

// ProbeSink checks that path can be written. A path that does not exist yet is
// created and removed again; an existing file is opened for writing and kept intact.
func ProbeSink(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return errors.Wrapf(ErrInvalidSink, "%q is a directory", path)
	case err == nil:
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return errors.Wrapf(ErrInvalidSink, "%q: %v", path, err)
		}
		return f.Close()
	case os.IsNotExist(err):
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return errors.Wrapf(ErrInvalidSink, "%q: %v", path, err)
		}
		f.Close()
		return os.Remove(path)
	default:
		return errors.Wrapf(ErrInvalidSink, "%q: %v", path, err)
	}
}

// Branch is the fan-out metadata of one sink endpoint
type Branch struct {
	Index    int
	Queue    string
	Terminal string
	Endpoint Endpoint
}

// Sink renders overlay, format normalization and one terminal per endpoint
type Sink struct {
	base
	endpoints []Endpoint
	overlay   bool
}

// SinkOption configures a Sink
type SinkOption func(*Sink)

// WithOverlay draws accelerator metadata on frames before output
func WithOverlay(on bool) SinkOption {
	return func(s *Sink) { s.overlay = on }
}

// WithSinkName overrides the default element name "sink"
func WithSinkName(name string) SinkOption {
	return func(s *Sink) { s.name = name }
}

// NewSink classifies every identifier. File paths are not probed here; use
// ValidateSink first when writability matters.
func NewSink(ids []string, opts ...SinkOption) (*Sink, error) {
	if len(ids) == 0 {
		return nil, ErrNoEndpoints
	}
	s := &Sink{base: base{name: "sink"}}
	for _, id := range ids {
		ep, err := ClassifySink(id)
		if err != nil {
			return nil, err
		}
		s.endpoints = append(s.endpoints, ep)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sink) Kind() Kind { return KindSink }

// Endpoints returns a copy of the classified endpoints
func (s *Sink) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Overlay reports whether the overlay stage is rendered
func (s *Sink) Overlay() bool { return s.overlay }

// TeeName is the fan-out element name, empty for a single endpoint
func (s *Sink) TeeName() string {
	if len(s.endpoints) < 2 {
		return ""
	}
	return s.name + "_tee"
}

// Branches describes every endpoint branch. Queue is empty without fan-out.
func (s *Sink) Branches() []Branch {
	fanout := len(s.endpoints) > 1
	branches := make([]Branch, 0, len(s.endpoints))
	for i, ep := range s.endpoints {
		b := Branch{Index: i, Endpoint: ep, Terminal: s.terminalName(i, ep.Kind)}
		if fanout {
			b.Queue = fmt.Sprintf("%s_tee_queue%d", s.name, i)
		}
		branches = append(branches, b)
	}
	return branches
}

// Fragment renders the sink chain ending in either one terminal or a tee
func (s *Sink) Fragment(p params.Store) (string, error) {
	if len(s.endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	q := p.Queue
	n := s.name

	var parts []string
	if s.overlay {
		parts = append(parts,
			q.Fragment(n+"_queue_hailooverlay"),
			fmt.Sprintf("hailooverlay name=%s_hailooverlay", n))
	}
	parts = append(parts,
		q.Fragment(n+"_queue_videoconvert"),
		fmt.Sprintf("videoconvert name=%s_videoconvert n-threads=2 qos=false", n),
		q.Fragment(n+"_sink_queue"),
	)

	branches := s.Branches()
	if len(branches) == 1 {
		parts = append(parts, s.terminal(branches[0]))
		return strings.Join(parts, " ! "), nil
	}

	tee := s.TeeName()
	parts = append(parts, "tee name="+tee)
	var b strings.Builder
	b.WriteString(strings.Join(parts, " ! "))
	for i, br := range branches {
		// the first branch links straight from the tee, the rest re-enter by name
		if i > 0 {
			b.WriteString(" " + tee + ".")
		}
		b.WriteString(" ! " + q.Fragment(br.Queue) + " ! " + s.terminal(br))
	}
	return b.String(), nil
}

func (s *Sink) terminalName(i int, kind EndpointKind) string {
	suffix := ""
	if len(s.endpoints) > 1 {
		suffix = fmt.Sprint(i)
	}
	switch kind {
	case EndpointDisplay:
		return fmt.Sprintf("%s_xvimagesink_with_fps%s", s.name, suffix)
	case EndpointNetwork:
		return fmt.Sprintf("%s_udpsink%s", s.name, suffix)
	default:
		return fmt.Sprintf("%s_filesink%s", s.name, suffix)
	}
}

func (s *Sink) terminal(br Branch) string {
	ep := br.Endpoint
	switch ep.Kind {
	case EndpointDisplay:
		return fmt.Sprintf("fpsdisplaysink name=%s video-sink=xvimagesink sync=true text-overlay=true signal-fps-measurements=true", br.Terminal)
	case EndpointNetwork:
		return strings.Join([]string{
			"x264enc tune=zerolatency",
			"video/x-h264",
			"rtph264pay",
			fmt.Sprintf("udpsink name=%s host=%s port=%d", br.Terminal, ep.Host, ep.Port),
		}, " ! ")
	default:
		file := fmt.Sprintf("filesink name=%s location=%s", br.Terminal, quotePath(ep.ID))
		switch strings.ToLower(filepath.Ext(ep.ID)) {
		case ".h264", ".264":
			return "x264enc tune=zerolatency ! video/x-h264 ! h264parse ! " + file
		case ".mp4":
			return "x264enc tune=zerolatency ! video/x-h264 ! h264parse ! mp4mux ! " + file
		default:
			return file
		}
	}
}
