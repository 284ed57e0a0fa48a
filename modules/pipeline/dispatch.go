package pipeline

import (
	"github.com/e7canasta/sensorpod/modules/eventbus"
)

// dispatch handles one bus event on the event goroutine
func (r *Runtime) dispatch(ev Event) {
	log := r.logger.With().Str("element", ev.Source).Logger()

	switch ev.Kind {
	case EventEOS:
		if r.State() != StatePlaying {
			log.Debug().Msg("pipeline: end of stream while shutting down")
			return
		}
		if !r.loop {
			log.Info().Msg("pipeline: end of stream received, shutting down")
			r.teardown()
			return
		}
		if !r.handle.SeekToZero() {
			log.Error().Msg("pipeline: seek to start failed after end of stream")
			return
		}
		n := r.loops.Add(1)
		log.Info().Uint64("loops", n).Msg("pipeline: end of stream received, looping")
		r.publish(eventbus.Event{Kind: eventbus.KindLooped, Source: ev.Source})

	case EventError:
		category := ClassifyError(ev.Message, ev.Debug)
		rerr := &RuntimeError{Source: ev.Source, Message: ev.Message, Debug: ev.Debug, Category: category}
		// the first error is the one that caused the shutdown
		r.lastErr.CompareAndSwap(nil, rerr)
		log.Error().
			Str("error", ev.Message).
			Str("debug", ev.Debug).
			Str("category", category.String()).
			Msg("pipeline: error received")
		r.publish(eventbus.Event{
			Kind:     eventbus.KindError,
			Source:   ev.Source,
			Message:  ev.Message,
			Category: category.String(),
		})
		r.teardown()

	case EventWarning:
		if r.notices.Allow() {
			log.Warn().Str("warning", ev.Message).Str("debug", ev.Debug).Msg("pipeline: warning received")
		}

	case EventInfo:
		log.Info().Str("info", ev.Message).Msg("pipeline: info received")

	case EventQoS:
		// qos is disabled at Run; notices are only reported
		if r.notices.Allow() {
			log.Info().Str("qos", ev.Message).Msg("pipeline: qos message received")
		}

	case EventStreamStatus:
		log.Debug().Str("status", ev.Message).Msg("pipeline: stream status")

	case EventElement:
		log.Debug().Str("message", ev.Message).Msg("pipeline: element message")

	case EventStateChanged:
		log.Debug().Str("transition", ev.Message).Msg("pipeline: state changed")

	case EventOther:
		log.Debug().Str("message", ev.Message).Msg("pipeline: bus message")

	default:
		log.Warn().Str("kind", ev.Kind.String()).Msg("pipeline: unrecognized bus event")
	}
}
