package relay

import (
	"context"

	"github.com/rs/zerolog/log"
)

// onConnectAccepted runs after the transport reports a successful dial or
// inbound accept to addr: every message the pending queue was holding for
// addr is flushed in submission order. Port users are recorded separately,
// by onNewIncomingConnection.
func (r *Relay) onConnectAccepted(addr Address) {
	drained := r.queue.DrainTarget(addr)
	for _, payload := range drained {
		if err := r.transport.Send(addr, payload); err != nil {
			log.Warn().Err(err).Str("addr", addr.String()).Msg("[Relay] failed to flush queued message")
		}
	}
	if len(drained) > 0 {
		log.Debug().Str("addr", addr.String()).Int("count", len(drained)).Msg("[Relay] flushed queued messages on connect")
	}
}

// onNewIncomingConnection records that addr connected inbound on port,
// so its eventual disconnection cascades into the right cleanup. Only
// server-relay ports with a bound server are recorded in portUsers.
func (r *Relay) onNewIncomingConnection(addr Address, port uint16) {
	if _, ok := r.maps.ServerByPort(port); ok {
		r.maps.AddPortUser(addr, port)
	}
	if r.isFacilitator(addr) {
		return
	}
	log.Debug().Str("addr", addr.String()).Uint16("port", port).Msg("[Relay] incoming connection")
}

// onConnectionAttemptFailed drops anything queued for addr: nothing was
// ever delivered, so there is no partial state elsewhere to unwind beyond
// the relayMap entries that caused the dial. Those entries are removed;
// the clients' own connections are left open.
func (r *Relay) onConnectionAttemptFailed(addr Address) {
	dropped := r.queue.DropTarget(addr)
	if dropped > 0 {
		log.Debug().Str("addr", addr.String()).Int("count", dropped).Msg("[Relay] dropped queued messages after failed dial")
	}
	if _, isServer := r.maps.PortByServer(addr); !isServer {
		for _, client := range r.maps.ClientsOf(addr) {
			r.maps.RemoveClient(client)
		}
	}
	r.cleanup(addr)
}

// onConnectionLost is the single cascading-cleanup routine, parametrized
// only by the address that disconnected. It covers every role addr might
// have been playing simultaneously: a server holding a relay port, a
// client routed through relayMap, and/or a peer attached to one or more
// server-relay ports.
func (r *Relay) onConnectionLost(addr Address) {
	if r.isFacilitator(addr) {
		log.Debug().Str("addr", addr.String()).Msg("[Relay] facilitator disconnected, ignoring")
		return
	}
	r.cleanup(addr)
}

// cleanup performs the full transitive-closure teardown for addr:
//
//  1. If addr was a server (it owns a port in serverMap), every client
//     still routed to it is closed and removed from relayMap, the port's
//     users are cleared, the port itself is released back to the pool,
//     and the serverMap entry is removed.
//  2. If addr was a client (it has a relayMap entry), the entry is
//     removed. If no other client still routes to the same server, the
//     transport connection to that server is closed too — the server's
//     own cascading cleanup then runs when its disconnect event arrives.
//  3. Any portUsers entries naming addr directly are removed, regardless
//     of whether addr was acting as server or client.
//  4. Anything still queued for addr is dropped, since it can no longer
//     be delivered.
func (r *Relay) cleanup(addr Address) {
	cleaned := false

	if port, ok := r.maps.PortByServer(addr); ok {
		cleaned = true
		closedClients := make(map[Address]struct{})
		for _, client := range r.maps.ClientsOf(addr) {
			r.maps.RemoveClient(client)
			closedClients[client] = struct{}{}
			if err := r.transport.Close(client); err != nil {
				log.Debug().Err(err).Str("client", client.String()).Msg("[Relay] close on server teardown")
			}
		}
		for _, user := range r.maps.RemoveAllPortUsersForPort(port) {
			if _, done := closedClients[user]; done {
				continue
			}
			if err := r.transport.Close(user); err != nil {
				log.Debug().Err(err).Str("addr", user.String()).Msg("[Relay] close on port teardown")
			}
		}
		r.maps.RemoveServerPort(port)
		r.pool.Release(port)
		log.Info().Str("server", addr.String()).Uint16("port", port).Msg("[Relay] server disconnected, port released")
	}

	if server, ok := r.maps.ServerOf(addr); ok {
		cleaned = true
		r.maps.RemoveClient(addr)
		log.Debug().Str("client", addr.String()).Str("server", server.String()).Msg("[Relay] client disconnected")
		if !r.maps.HasOtherClientFor(server, addr) {
			if err := r.transport.Close(server); err != nil {
				log.Debug().Err(err).Str("server", server.String()).Msg("[Relay] close on last-client teardown")
			}
		}
	}

	r.maps.RemoveAllPortUsersForAddr(addr)

	if dropped := r.queue.DropTarget(addr); dropped > 0 {
		cleaned = true
		log.Debug().Str("addr", addr.String()).Int("count", dropped).Msg("[Relay] dropped queued messages on disconnect")
	}

	if cleaned {
		r.metrics.cascadingTotal.Inc()
	}
}

// onNATTargetUnreachable handles the two NAT-specific event kinds: a
// punch-through target that was never connected, or one whose connection
// was lost mid-session. Anything queued for the target is dropped and the
// target then goes through the same cleanup a direct disconnect triggers.
// If the target owns a relay port in serverMap, every client routed to it
// is unrouted and closed and the port is released. If the target holds no
// relay port, relayMap entries routing to it are kept and the clients'
// connections are left open.
func (r *Relay) onNATTargetUnreachable(ctx context.Context, target Address) {
	_ = ctx
	dropped := r.queue.DropTarget(target)
	if dropped > 0 {
		log.Debug().Str("target", target.String()).Int("count", dropped).Msg("[Relay] dropped queued messages for unreachable NAT target")
	}
	r.cleanup(target)
}

// dispatchListenPortPayload routes a data packet received on the shared
// listen port by its leading message identifier byte.
func (r *Relay) dispatchListenPortPayload(ctx context.Context, sender Address, payload []byte) {
	if len(payload) == 0 {
		log.Debug().Str("sender", sender.String()).Msg("[Relay] empty payload on listen port, dropping")
		return
	}

	switch payload[0] {
	case MsgProxyServerInit:
		r.handleServerInit(sender, payload)
	case MsgProxyInitMessage:
		r.handleClientInit(ctx, sender, payload)
	case MsgProxyClientMessage:
		r.handleClientMessage(ctx, sender, payload)
	case MsgProxyServerMessage:
		r.handleServerMessageOnListenPort(payload)
	case MsgInvalidPassword:
		r.handleInvalidPassword(sender, payload)
	default:
		log.Debug().Uint8("id", payload[0]).Str("sender", sender.String()).Msg("[Relay] unrecognized listen-port message id, dropping")
	}
}
