// Package control exposes the coprocessor over MQTT: commands arrive on a
// control topic, responses go to a response topic and lifecycle events are
// forwarded to a status topic.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/e7canasta/sensorpod/internal/config"
	"github.com/e7canasta/sensorpod/modules/coprocessor"
	"github.com/e7canasta/sensorpod/modules/eventbus"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command represents a control plane command
type Command struct {
	Command       string         `json:"command"`
	Params        map[string]any `json:"params,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck    string         `json:"command_ack"`
	Status        string         `json:"status"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	Timestamp     string         `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// StatusMessage is a lifecycle event as published on the status topic
type StatusMessage struct {
	Event     string    `json:"event"`
	RuntimeID string    `json:"runtime_id"`
	Pipeline  string    `json:"pipeline"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	Category  string    `json:"category,omitempty"`
	At        time.Time `json:"at"`
}

// Session is the coprocessor surface driven by commands
type Session interface {
	SetSource(id string) error
	SetModel(name string) error
	SetSinks(ids ...string) error
	Start(loop bool) error
	Stop() error
	Clear()
	Status() coprocessor.Session
}

// Switch is a peripheral with a power state
type Switch interface {
	TurnOn() error
	TurnOff() error
}

// ContextSwitch is a peripheral whose switching may block
type ContextSwitch interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Handler handles control plane commands. Every Session call happens on the
// goroutine running Run.
type Handler struct {
	transport Transport
	codec     Codec
	topics    config.MQTTTopics
	qos       byte
	session   Session
	logger    zerolog.Logger

	display    ContextSwitch
	flashlight Switch
	onShutdown func()

	commands chan Command
}

// Option configures a Handler
type Option func(*Handler)

func WithCodec(c Codec) Option { return func(h *Handler) { h.codec = c } }

func WithLogger(l zerolog.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithDisplay(d ContextSwitch) Option { return func(h *Handler) { h.display = d } }

func WithFlashlight(f Switch) Option { return func(h *Handler) { h.flashlight = f } }

// WithShutdown is called after the shutdown command has been acknowledged
func WithShutdown(fn func()) Option { return func(h *Handler) { h.onShutdown = fn } }

// NewHandler creates a new control plane handler
func NewHandler(transport Transport, cfg config.MQTTConfig, session Session, opts ...Option) *Handler {
	h := &Handler{
		transport: transport,
		codec:     JSONCodec{},
		topics:    cfg.Topics,
		qos:       cfg.QoS,
		session:   session,
		logger:    zerolog.Nop(),
		commands:  make(chan Command, 10),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "control").Logger()
	return h
}

// Run subscribes to the control topic and processes commands and lifecycle
// events until ctx is done. events may be nil.
func (h *Handler) Run(ctx context.Context, events <-chan eventbus.Event) error {
	if err := h.transport.Subscribe(h.topics.Control, h.qos, h.messageHandler); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}
	h.logger.Info().Str("topic", h.topics.Control).Str("encoding", h.codec.Name()).Msg("control: handler started")

	defer func() {
		if err := h.transport.Unsubscribe(h.topics.Control); err != nil {
			h.logger.Warn().Err(err).Msg("control: unsubscribe failed")
		}
		h.logger.Info().Msg("control: handler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		case ev := <-events:
			h.publishEvent(ev)
		}
	}
}

// messageHandler is called by the transport when a control message is received
func (h *Handler) messageHandler(payload []byte) {
	var cmd Command
	if err := h.codec.Unmarshal(payload, &cmd); err != nil {
		h.logger.Error().Err(err).Msg("control: failed to parse command")
		h.sendResponse(Response{CommandAck: "unknown", Status: StatusError, Error: "invalid " + h.codec.Name() + " payload"})
		return
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	h.logger.Info().Str("command", cmd.Command).Str("correlation_id", cmd.CorrelationID).Msg("control: command received")

	select {
	case h.commands <- cmd:
	default:
		h.logger.Warn().Str("command", cmd.Command).Msg("control: command queue full, dropping command")
		h.sendResponse(Response{CommandAck: cmd.Command, Status: StatusError, Error: "command queue full", CorrelationID: cmd.CorrelationID})
	}
}

// handleCommand executes a command and publishes its response
func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command, CorrelationID: cmd.CorrelationID}
	var err error

	switch cmd.Command {
	case "set_source":
		var source string
		if source, err = stringParam(cmd, "source"); err == nil {
			err = h.session.SetSource(source)
		}
	case "set_model":
		var model string
		if model, err = stringParam(cmd, "model"); err == nil {
			err = h.session.SetModel(model)
		}
	case "set_sinks":
		var sinks []string
		if sinks, err = cast.ToStringSliceE(cmd.Params["sinks"]); err == nil {
			err = h.session.SetSinks(sinks...)
		}
	case "start":
		err = h.session.Start(cast.ToBool(cmd.Params["loop"]))
	case "stop":
		err = h.session.Stop()
	case "clear":
		h.session.Clear()
	case "get_status":
		// reported below with every successful response
	case "display_on", "display_off":
		if h.display == nil {
			err = errors.New("display not available")
		} else if cmd.Command == "display_on" {
			err = h.display.TurnOn(ctx)
		} else {
			err = h.display.TurnOff(ctx)
		}
	case "flashlight_on", "flashlight_off":
		if h.flashlight == nil {
			err = errors.New("flashlight not available")
		} else if cmd.Command == "flashlight_on" {
			err = h.flashlight.TurnOn()
		} else {
			err = h.flashlight.TurnOff()
		}
	case "shutdown":
		if h.onShutdown == nil {
			err = errors.New("shutdown not implemented")
			break
		}
		h.logger.Warn().Msg("control: shutdown command received")
		resp.Status = StatusSuccess
		resp.Data = map[string]any{"shutdown_initiated": true}
		// respond before triggering shutdown
		h.sendResponse(resp)
		h.onShutdown()
		return
	default:
		err = fmt.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		var cerr *coprocessor.ConfigError
		if errors.As(err, &cerr) {
			resp.Data = map[string]any{"field": cerr.Field, "value": cerr.Value}
		}
		h.logger.Warn().Err(err).Str("command", cmd.Command).Msg("control: command failed")
	} else {
		resp.Status = StatusSuccess
		resp.Data = map[string]any{"session": h.session.Status()}
	}
	h.sendResponse(resp)
}

// sendResponse publishes resp on the response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if resp.CorrelationID == "" {
		resp.CorrelationID = uuid.NewString()
	}

	payload, err := h.codec.Marshal(resp)
	if err != nil {
		h.logger.Error().Err(err).Msg("control: failed to marshal response")
		return
	}
	if err := h.transport.Publish(h.topics.Responses, h.qos, payload); err != nil {
		h.logger.Error().Err(err).Msg("control: failed to publish response")
		return
	}
	h.logger.Debug().Str("command_ack", resp.CommandAck).Str("status", resp.Status).Msg("control: response sent")
}

// publishEvent forwards a lifecycle event to the status topic
func (h *Handler) publishEvent(ev eventbus.Event) {
	msg := StatusMessage{
		Event:     ev.Kind.String(),
		RuntimeID: ev.RuntimeID,
		Pipeline:  ev.Pipeline,
		Source:    ev.Source,
		Message:   ev.Message,
		Category:  ev.Category,
		At:        ev.At,
	}
	payload, err := h.codec.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("control: failed to marshal status")
		return
	}
	if err := h.transport.Publish(h.topics.Status, h.qos, payload); err != nil {
		h.logger.Warn().Err(err).Str("event", msg.Event).Msg("control: failed to publish status")
	}
}

func stringParam(cmd Command, key string) (string, error) {
	v, ok := cmd.Params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing or invalid '%s' parameter (expected string)", key)
	}
	return v, nil
}
