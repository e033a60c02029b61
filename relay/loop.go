package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// idlePollInterval is how often Run refreshes the metrics gauges while it
// waits for events. Run does not sleep: it blocks on the event channel and
// wakes as soon as an event arrives.
const idlePollInterval = 30 * time.Millisecond

// Run drains Transport.Events() until ctx is canceled, dispatching each
// event to the matching handler. After each event it empties the channel
// before blocking again, so a burst of events is processed back to back.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.transport.Listen(ctx, r.cfg.ListenPort); err != nil {
		return wrapProtocol(err, "listen on shared port %d", r.cfg.ListenPort)
	}
	log.Info().Uint16("port", r.cfg.ListenPort).Msg("[Relay] listening")

	events := r.transport.Events()
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errProtocolf("transport event channel closed")
			}
			r.dispatch(ctx, ev)
			r.drainRemaining(ctx, events)
		case <-ticker.C:
			r.metrics.Observe(r.Stats())
		}
	}
}

// drainRemaining processes every event already queued on the channel
// without blocking, so a burst arriving together is handled in one pass.
func (r *Relay) drainRemaining(ctx context.Context, events <-chan Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventDataPacket:
		r.dispatchDataPacket(ctx, ev)
	case EventNewIncomingConnection:
		r.onNewIncomingConnection(ev.Sender, ev.ReceivePort)
		r.onConnectAccepted(ev.Sender)
	case EventConnectionRequestAccepted:
		r.onConnectAccepted(ev.Sender)
	case EventConnectionLost, EventDisconnectionNotification:
		r.onConnectionLost(ev.Sender)
	case EventConnectionAttemptFailed:
		r.onConnectionAttemptFailed(ev.Sender)
	case EventNATTargetNotConnected, EventNATConnectionToTargetLost:
		r.onNATTargetUnreachable(ctx, ev.Sender)
	default:
		log.Debug().Int("kind", int(ev.Kind)).Msg("[Relay] unrecognized event kind, dropping")
	}
}

func (r *Relay) dispatchDataPacket(ctx context.Context, ev Event) {
	if ev.ReceivePort == r.cfg.ListenPort {
		r.dispatchListenPortPayload(ctx, ev.Sender, ev.Payload)
		return
	}
	if _, ok := r.maps.ServerByPort(ev.ReceivePort); ok {
		r.handleServerRelayPortPacket(ev.ReceivePort, ev.Sender, ev.Payload)
		return
	}
	log.Debug().Uint16("port", ev.ReceivePort).Str("sender", ev.Sender.String()).Msg("[Relay] data packet on unrecognized port, dropping")
}
