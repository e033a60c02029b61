package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Relay is the single aggregate that owns the port pool, the three
// address maps, the pending queue, and the transport handle. All
// state-mutating methods are only ever called from the goroutine
// running Run.
type Relay struct {
	cfg Config

	pool  *PortPool
	maps  *AddressMaps
	queue *PendingQueue

	transport Transport
	metrics   *Metrics

	facilitator   Address
	hasFacilitator bool

	mu sync.Mutex // guards facilitator, set once at startup then read-only
}

// New builds a Relay over the given transport. The port pool spans
// [cfg.PortRangeStart, cfg.PortRangeEnd]; cfg is assumed already
// Validate()-d by the caller.
func New(cfg Config, transport Transport, metrics *Metrics) (*Relay, error) {
	pool, err := NewPortPool(cfg.PortRangeStart, cfg.PortRangeEnd)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Relay{
		cfg:       cfg,
		pool:      pool,
		maps:      NewAddressMaps(),
		queue:     NewPendingQueue(),
		transport: transport,
		metrics:   metrics,
	}, nil
}

// SetFacilitator records the facilitator's address so cleanup ignores its
// disconnection instead of tearing down unrelated state.
func (r *Relay) SetFacilitator(addr Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facilitator = addr
	r.hasFacilitator = true
}

func (r *Relay) isFacilitator(addr Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasFacilitator && addr == r.facilitator
}

// Stats is a read-only snapshot of relay sizing, used by the metrics
// surface and tests; it never participates in the invariants itself.
type Stats struct {
	PoolFree   int
	PoolUsed   int
	Servers    int
	Clients    int
	PortUsers  int
	QueueDepth int
}

func (r *Relay) Stats() Stats {
	return Stats{
		PoolFree:   r.pool.FreeCount(),
		PoolUsed:   r.pool.UsedCount(),
		Servers:    r.maps.ServerMapSize(),
		Clients:    r.maps.RelayMapSize(),
		PortUsers:  r.maps.PortUsersSize(),
		QueueDepth: r.queue.Len(),
	}
}

// --- Flow (a): client-init ---

func (r *Relay) handleClientInit(ctx context.Context, client Address, raw []byte) {
	init, err := DecodeClientInit(raw)
	if err != nil {
		log.Debug().Err(err).Str("client", client.String()).Msg("[Relay] malformed ClientInit, dropping")
		return
	}

	r.maps.SetRelay(client, init.Target)
	notification := EncodeClientInitNotification(client, init.ProtoVer, init.ClientVer)

	if r.connected(init.Target) {
		if err := r.transport.Send(init.Target, notification); err != nil {
			log.Warn().Err(err).Str("target", init.Target.String()).Msg("[Relay] failed to notify server of client init")
		}
		return
	}

	r.queue.Enqueue(notification, init.Target)
	password := ""
	if init.HasPass {
		password = string(init.Password)
	}
	if err := r.transport.Dial(ctx, init.Target, password, init.UseNAT); err != nil {
		log.Warn().Err(err).Str("target", init.Target.String()).Msg("[Relay] dial failed synchronously")
	}
}

// connected is the engine's notion of "already connected to addr": true
// whenever the transport already holds an established session to it.
// The pending queue holds messages for every address this reports false
// for.
func (r *Relay) connected(addr Address) bool {
	return r.transport.IsConnected(addr)
}

// --- Flow (b): client->server relay ---

func (r *Relay) handleClientMessage(ctx context.Context, client Address, raw []byte) {
	target, ok := r.maps.ServerOf(client)
	if !ok {
		log.Debug().Str("client", client.String()).Msg("[Relay] client message with no relayMap entry, dropping")
		return
	}

	rewritten, err := RewriteClientToServer(client, raw)
	if err != nil {
		log.Debug().Err(err).Str("client", client.String()).Msg("[Relay] malformed client message, dropping")
		return
	}

	if r.connected(target) {
		if err := r.transport.Send(target, rewritten); err != nil {
			log.Warn().Err(err).Str("target", target.String()).Msg("[Relay] failed to relay client message")
		}
		return
	}

	r.queue.Enqueue(rewritten, target)
	if err := r.transport.Dial(ctx, target, "", false); err != nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("[Relay] dial failed synchronously")
	}
}

// --- Flow (c): server->client relay, listen-port sub-form ---

func (r *Relay) handleServerMessageOnListenPort(raw []byte) {
	client, tail, err := DecodeServerMessage(raw)
	if err != nil {
		log.Debug().Err(err).Msg("[Relay] malformed server message, dropping")
		return
	}
	if err := r.transport.Send(client, tail); err != nil {
		log.Warn().Err(err).Str("client", client.String()).Msg("[Relay] failed to deliver server message to client")
	}
}

// --- Flow (c): server->client relay, server-relay-port sub-form ---

func (r *Relay) handleServerRelayPortPacket(port uint16, sender Address, payload []byte) {
	target, ok := r.maps.ServerByPort(port)
	if !ok {
		log.Debug().Uint16("port", port).Msg("[Relay] packet on server-relay port with no bound server, dropping")
		return
	}
	wrapped := EncodeProxyMessage(sender, payload)
	if err := r.transport.SendFrom(port, target, wrapped); err != nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("[Relay] failed to forward client packet to server")
	}
}

// --- ID_PROXY_SERVER_INIT ---

func (r *Relay) handleServerInit(server Address, raw []byte) {
	protoVer, err := DecodeServerInitRequest(raw)
	if err != nil {
		log.Debug().Err(err).Str("server", server.String()).Msg("[Relay] malformed ServerInit, dropping")
		return
	}

	port, ok := r.pool.Acquire()
	if !ok {
		log.Warn().Str("server", server.String()).Msg("[Relay] port pool exhausted, rejecting server init")
		resp := EncodeServerInitResponse(protoVer, 0)
		_ = r.transport.Send(server, resp)
		r.metrics.poolExhaustions.Inc()
		return
	}

	r.maps.AddServer(port, server)
	if err := r.transport.Listen(context.Background(), port); err != nil {
		log.Warn().Err(err).Uint16("port", port).Msg("[Relay] failed to open server-relay port")
	}

	resp := EncodeServerInitResponse(protoVer, port)
	if err := r.transport.Send(server, resp); err != nil {
		log.Warn().Err(err).Str("server", server.String()).Msg("[Relay] failed to reply to ServerInit")
	}
	log.Info().Str("server", server.String()).Uint16("port", port).Msg("[Relay] server leased port")
}

// --- ID_INVALID_PASSWORD ---

func (r *Relay) handleInvalidPassword(server Address, raw []byte) {
	for _, client := range r.maps.ClientsOf(server) {
		if err := r.transport.Send(client, raw); err != nil {
			log.Warn().Err(err).Str("client", client.String()).Msg("[Relay] failed to forward invalid-password notice")
		}
		return
	}
	log.Info().Str("server", server.String()).Msg("[Relay] invalid-password notice with no matching client, dropping")
}
