package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/sensorpod/internal/config"
	"github.com/e7canasta/sensorpod/modules/coprocessor"
	"github.com/e7canasta/sensorpod/modules/element"
	"github.com/e7canasta/sensorpod/modules/eventbus"
)

type published struct {
	topic   string
	payload []byte
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	out      chan published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]func([]byte){}, out: make(chan published, 32)}
}

func (t *fakeTransport) Subscribe(topic string, _ byte, fn func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = fn
	return nil
}

func (t *fakeTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, topic)
	return nil
}

func (t *fakeTransport) Publish(topic string, _ byte, payload []byte) error {
	t.out <- published{topic, payload}
	return nil
}

func (t *fakeTransport) deliver(tb testing.TB, topic string, payload []byte) {
	tb.Helper()
	require.Eventually(tb, func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.handlers[topic] != nil
	}, time.Second, 5*time.Millisecond, "no subscription on %s", topic)
	t.mu.Lock()
	fn := t.handlers[topic]
	t.mu.Unlock()
	fn(payload)
}

func (t *fakeTransport) next(tb testing.TB) published {
	tb.Helper()
	select {
	case p := <-t.out:
		return p
	case <-time.After(2 * time.Second):
		tb.Fatal("nothing published")
		return published{}
	}
}

type fakeSession struct {
	calls  []string
	source string
	sinks  []string
	loop   bool
	err    error
}

func (s *fakeSession) SetSource(id string) error {
	s.calls = append(s.calls, "set_source")
	if s.err != nil {
		return s.err
	}
	s.source = id
	return nil
}

func (s *fakeSession) SetModel(string) error {
	s.calls = append(s.calls, "set_model")
	return s.err
}

func (s *fakeSession) SetSinks(ids ...string) error {
	s.calls = append(s.calls, "set_sinks")
	s.sinks = ids
	return s.err
}

func (s *fakeSession) Start(loop bool) error {
	s.calls = append(s.calls, "start")
	s.loop = loop
	return s.err
}

func (s *fakeSession) Stop() error { s.calls = append(s.calls, "stop"); return nil }
func (s *fakeSession) Clear()      { s.calls = append(s.calls, "clear") }

func (s *fakeSession) Status() coprocessor.Session {
	return coprocessor.Session{Source: s.source, Sinks: s.sinks}
}

type fakeSwitch struct{ on bool }

func (f *fakeSwitch) TurnOn() error  { f.on = true; return nil }
func (f *fakeSwitch) TurnOff() error { f.on = false; return nil }

type fakeDisplay struct{ fakeSwitch }

func (d *fakeDisplay) TurnOn(context.Context) error  { return d.fakeSwitch.TurnOn() }
func (d *fakeDisplay) TurnOff(context.Context) error { return d.fakeSwitch.TurnOff() }

var testMQTT = config.MQTTConfig{
	QoS: 1,
	Topics: config.MQTTTopics{
		Control:   "sensorpod/control/pod",
		Responses: "sensorpod/responses/pod",
		Status:    "sensorpod/status/pod",
	},
}

type harness struct {
	transport *fakeTransport
	codec     Codec
	session   *fakeSession
	events    chan eventbus.Event
	cancel    context.CancelFunc
	done      chan error
}

func startHandler(t *testing.T, codec Codec, session *fakeSession, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		codec:     codec,
		session:   session,
		events:    make(chan eventbus.Event, 4),
		done:      make(chan error, 1),
	}
	handler := NewHandler(h.transport, testMQTT, session, append([]Option{WithCodec(codec)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- handler.Run(ctx, h.events) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) send(t *testing.T, cmd Command) Response {
	t.Helper()
	payload, err := h.codec.Marshal(cmd)
	require.NoError(t, err)
	h.transport.deliver(t, testMQTT.Topics.Control, payload)

	p := h.transport.next(t)
	require.Equal(t, testMQTT.Topics.Responses, p.topic)
	var resp Response
	require.NoError(t, h.codec.Unmarshal(p.payload, &resp))
	return resp
}

func TestCommandSequence(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			session := &fakeSession{}
			h := startHandler(t, codec, session)

			resp := h.send(t, Command{Command: "set_source", Params: map[string]any{"source": "front-camera"}, CorrelationID: "c-1"})
			assert.Equal(t, StatusSuccess, resp.Status)
			assert.Equal(t, "set_source", resp.CommandAck)
			assert.Equal(t, "c-1", resp.CorrelationID)
			assert.NotEmpty(t, resp.Timestamp)

			resp = h.send(t, Command{Command: "set_sinks", Params: map[string]any{"sinks": []any{"display", "rtsp://10.0.0.5:5000"}}})
			assert.Equal(t, StatusSuccess, resp.Status)
			assert.NotEmpty(t, resp.CorrelationID, "correlation id is generated when absent")

			resp = h.send(t, Command{Command: "start", Params: map[string]any{"loop": true}})
			assert.Equal(t, StatusSuccess, resp.Status)

			resp = h.send(t, Command{Command: "get_status"})
			assert.Equal(t, StatusSuccess, resp.Status)
			assert.Contains(t, resp.Data, "session")

			h.send(t, Command{Command: "stop"})
			h.send(t, Command{Command: "clear"})

			assert.Equal(t, []string{"set_source", "set_sinks", "start", "stop", "clear"}, session.calls)
			assert.Equal(t, "front-camera", session.source)
			assert.Equal(t, []string{"display", "rtsp://10.0.0.5:5000"}, session.sinks)
			assert.True(t, session.loop)
		})
	}
}

func TestCommandErrors(t *testing.T) {
	session := &fakeSession{}
	h := startHandler(t, JSONCodec{}, session)

	resp := h.send(t, Command{Command: "set_source"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "'source'")
	assert.Empty(t, session.calls, "invalid params never reach the session")

	resp = h.send(t, Command{Command: "self_destruct"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "unknown command: self_destruct", resp.Error)

	resp = h.send(t, Command{Command: "display_on"})
	assert.Equal(t, "display not available", resp.Error)

	resp = h.send(t, Command{Command: "shutdown"})
	assert.Equal(t, StatusError, resp.Status)

	session.err = &coprocessor.ConfigError{Field: "model", Value: "FACE_RECOGNITION", Err: element.ErrUnknownModel}
	resp = h.send(t, Command{Command: "set_model", Params: map[string]any{"model": "FACE_RECOGNITION"}})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "FACE_RECOGNITION")
	assert.Equal(t, "model", resp.Data["field"])
	assert.Equal(t, "FACE_RECOGNITION", resp.Data["value"])
}

func TestInvalidPayload(t *testing.T) {
	h := startHandler(t, JSONCodec{}, &fakeSession{})

	h.transport.deliver(t, testMQTT.Topics.Control, []byte("{not json"))
	p := h.transport.next(t)

	var resp Response
	require.NoError(t, JSONCodec{}.Unmarshal(p.payload, &resp))
	assert.Equal(t, "unknown", resp.CommandAck)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "invalid json payload", resp.Error)
}

func TestPeripheralsAndShutdown(t *testing.T) {
	light := &fakeSwitch{}
	display := &fakeDisplay{}
	shutdown := make(chan struct{})
	h := startHandler(t, JSONCodec{}, &fakeSession{},
		WithFlashlight(light), WithDisplay(display), WithShutdown(func() { close(shutdown) }))

	assert.Equal(t, StatusSuccess, h.send(t, Command{Command: "flashlight_on"}).Status)
	assert.True(t, light.on)
	assert.Equal(t, StatusSuccess, h.send(t, Command{Command: "display_on"}).Status)
	assert.True(t, display.on)
	assert.Equal(t, StatusSuccess, h.send(t, Command{Command: "display_off"}).Status)
	assert.False(t, display.on)

	resp := h.send(t, Command{Command: "shutdown"})
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, true, resp.Data["shutdown_initiated"])
	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
}

func TestLifecycleEventsForwarded(t *testing.T) {
	h := startHandler(t, JSONCodec{}, &fakeSession{})

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.events <- eventbus.Event{
		Kind: eventbus.KindError, RuntimeID: "rt-1", Pipeline: "sensorpod",
		Source: "model_hailonet", Message: "Failed to open HEF file", Category: "accelerator", At: at,
	}

	p := h.transport.next(t)
	assert.Equal(t, testMQTT.Topics.Status, p.topic)
	var msg StatusMessage
	require.NoError(t, JSONCodec{}.Unmarshal(p.payload, &msg))
	assert.Equal(t, StatusMessage{
		Event: "error", RuntimeID: "rt-1", Pipeline: "sensorpod",
		Source: "model_hailonet", Message: "Failed to open HEF file", Category: "accelerator", At: at,
	}, msg)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := startHandler(t, JSONCodec{}, &fakeSession{})
	h.transport.deliver(t, testMQTT.Topics.Control, []byte(`{"command":"get_status"}`))
	h.transport.next(t)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Empty(t, h.transport.handlers, "control topic unsubscribed")
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())
	_, err = CodecFor("xml")
	assert.Error(t, err)
}
