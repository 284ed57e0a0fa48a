package element

import "github.com/pkg/errors"

var (
	ErrUnsupportedSource = errors.New("unsupported source identifier")
	ErrInvalidSink       = errors.New("invalid sink identifier")
	ErrNoEndpoints       = errors.New("sink needs at least one endpoint")
	ErrUnknownModel      = errors.New("unsupported model type")
	ErrFileNotFound      = errors.New("file not found")
	ErrInvalidFormat     = errors.New("invalid video format")
)
