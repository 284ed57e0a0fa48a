package element

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/e7canasta/sensorpod/modules/params"
)

// SourceShape is the capture branch chosen for a source identifier
type SourceShape int

const (
	ShapeFile SourceShape = iota
	ShapeCamera
	ShapeDevice
	ShapeUDP
	ShapeNetworkURI
)

// String returns a human-readable shape name
func (s SourceShape) String() string {
	switch s {
	case ShapeFile:
		return "file"
	case ShapeCamera:
		return "camera"
	case ShapeDevice:
		return "device"
	case ShapeUDP:
		return "udp"
	case ShapeNetworkURI:
		return "network-uri"
	default:
		return "unknown"
	}
}

var (
	schemePortPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:(\d+)$`)
	devicePattern     = regexp.MustCompile(`^/dev/video\d+$`)

	containerExts = map[string]bool{".mov": true, ".mp4": true, ".m4v": true}
	sourceSchemes = map[string]bool{"rtsp": true, "rtsps": true}
)

// ClassifySource decides which capture branch an identifier needs.
// Order matters: device nodes exist on disk, so they are matched before files.
func ClassifySource(id string) (SourceShape, error) {
	switch {
	case id == "":
		return 0, errors.Wrap(ErrUnsupportedSource, "empty identifier")
	case devicePattern.MatchString(id):
		return ShapeDevice, nil
	case isLocalCamera(id):
		return ShapeCamera, nil
	case isRegularFile(id):
		return ShapeFile, nil
	case schemePortPattern.MatchString(id):
		if _, err := parsePort(schemePortPattern.FindStringSubmatch(id)[1]); err != nil {
			return 0, errors.Wrapf(ErrUnsupportedSource, "%q: %v", id, err)
		}
		return ShapeUDP, nil
	case strings.Contains(id, "://"):
		if _, _, err := networkHostPort(id, sourceSchemes); err != nil {
			return 0, errors.Wrapf(ErrUnsupportedSource, "%q: %v", id, err)
		}
		return ShapeNetworkURI, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedSource, "%q", id)
	}
}

func isLocalCamera(id string) bool {
	return id == "cam0" || id == "cam1" || strings.Contains(id, "imx219")
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not numeric", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// networkHostPort checks that uri has an accepted scheme, a host and a numeric port
func networkHostPort(uri string, schemes map[string]bool) (string, int, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", 0, err
	}
	if !schemes[strings.ToLower(u.Scheme)] {
		return "", 0, fmt.Errorf("scheme %q not accepted", u.Scheme)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host")
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// Source captures frames and normalizes them to a single raw format and size
type Source struct {
	base
	id      string
	shape   SourceShape
	capture Format
	output  Format
}

// SourceOption configures a Source
type SourceOption func(*Source)

// WithSourceName overrides the default element name "source"
func WithSourceName(name string) SourceOption {
	return func(s *Source) { s.name = name }
}

// WithCaptureFormat declares what the capture device produces (camera branches)
func WithCaptureFormat(f Format) SourceOption {
	return func(s *Source) { s.capture = f }
}

// WithOutputFormat sets the normalized format at the source boundary
func WithOutputFormat(f Format) SourceOption {
	return func(s *Source) { s.output = f }
}

// NewSource classifies id and returns a Source, or ErrUnsupportedSource
func NewSource(id string, opts ...SourceOption) (*Source, error) {
	shape, err := ClassifySource(id)
	if err != nil {
		return nil, err
	}

	s := &Source{
		base:    base{name: "source"},
		id:      id,
		shape:   shape,
		capture: DefaultFormat,
		output:  DefaultFormat,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.capture.valid() || !s.output.valid() {
		return nil, errors.Wrapf(ErrInvalidFormat, "source %s: capture=%v output=%v", id, s.capture, s.output)
	}
	return s, nil
}

func (s *Source) Kind() Kind { return KindSource }

// Identifier returns the identifier the source was built from
func (s *Source) Identifier() string { return s.id }

// Shape returns the capture branch
func (s *Source) Shape() SourceShape { return s.shape }

// Output returns the normalized format at the source boundary
func (s *Source) Output() Format { return s.output }

// Fragment renders capture, decode, scale and convert stages
func (s *Source) Fragment(p params.Store) (string, error) {
	capture, err := s.captureFragment(p)
	if err != nil {
		return "", err
	}

	q := p.Queue
	n := s.name
	parts := []string{
		capture,
		q.Fragment(n + "_queue_scale"),
		fmt.Sprintf("videoscale name=%s_videoscale n-threads=2", n),
		fmt.Sprintf("video/x-raw, width=%d, height=%d", s.output.Width, s.output.Height),
		q.Fragment(n + "_queue_convert"),
		fmt.Sprintf("videoconvert n-threads=3 name=%s_convert qos=false", n),
		fmt.Sprintf("video/x-raw, format=%s, pixel-aspect-ratio=1/1", s.output.Format),
	}
	return strings.Join(parts, " ! "), nil
}

func (s *Source) captureFragment(p params.Store) (string, error) {
	n := s.name
	switch s.shape {
	case ShapeFile:
		decode := []string{
			p.Queue.Fragment(n + "_queue_dec264"),
			"h264parse",
			"avdec_h264 max-threads=2",
		}
		src := fmt.Sprintf("filesrc location=%s name=%s", quotePath(s.id), n)
		if containerExts[strings.ToLower(filepath.Ext(s.id))] {
			// only the video pad of the demuxer is linked
			src += fmt.Sprintf(" ! qtdemux name=%s_qtdemux %s_qtdemux.video_0", n, n)
		}
		return src + " ! " + strings.Join(decode, " ! "), nil

	case ShapeCamera:
		return fmt.Sprintf("libcamerasrc name=%s camera-name=%s ! %s", n, s.id, s.capture.Caps()), nil

	case ShapeDevice:
		return fmt.Sprintf("v4l2src name=%s device=%s ! %s", n, s.id, s.capture.Caps()), nil

	case ShapeUDP:
		port := schemePortPattern.FindStringSubmatch(s.id)[1]
		return strings.Join([]string{
			fmt.Sprintf("udpsrc name=%s port=%s", n, port),
			"application/x-rtp,clock-rate=90000,payload=96",
			"rtph264depay",
			"avdec_h264 max-threads=2",
		}, " ! "), nil

	case ShapeNetworkURI:
		return strings.Join([]string{
			fmt.Sprintf("rtspsrc name=%s location=%s latency=200 protocols=tcp", n, s.id),
			"rtph264depay",
			"avdec_h264 max-threads=2",
		}, " ! "), nil

	default:
		return "", errors.Wrapf(ErrUnsupportedSource, "%q", s.id)
	}
}
