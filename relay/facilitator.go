package relay

import (
	"context"
	"net"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

// FacilitatorClient wraps the libp2p host used to bootstrap-dial the
// configured NAT facilitator once at startup, mirroring pkg/p2p.go's
// MakeHost/ConnectBootstraps pair. The relay does not keep a persistent
// libp2p stream open to it; the dial itself is what lets the facilitator
// record this relay as reachable for punch-through coordination.
type FacilitatorClient struct {
	host host.Host
}

// NewFacilitatorClient creates a libp2p host with NAT service and hole
// punching enabled.
func NewFacilitatorClient(ctx context.Context) (*FacilitatorClient, error) {
	h, err := libp2p.New(
		libp2p.DefaultTransports,
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
	)
	if err != nil {
		return nil, wrapProtocol(err, "create facilitator host")
	}
	return &FacilitatorClient{host: h}, nil
}

// Connect dials the facilitator multiaddr, which must carry a /p2p/ peer
// id; a plain host:port string is rejected as a bad multiaddr. A bad
// multiaddr or a failed dial is returned as an error after a single
// attempt; no retry is made. It is not a fatal configuration error, since
// a facilitator that is unreachable at startup still allows the relay to
// serve peers that already know its address directly.
func (f *FacilitatorClient) Connect(ctx context.Context, addr string) (Address, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return Address{}, wrapProtocol(err, "parse facilitator multiaddr %q", addr)
	}
	ai, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return Address{}, wrapProtocol(err, "facilitator multiaddr %q missing /p2p/ id", addr)
	}
	if err := f.host.Connect(ctx, *ai); err != nil {
		return Address{}, wrapProtocol(err, "connect to facilitator %s", ai.ID)
	}
	log.Info().Str("peer", ai.ID.String()).Msg("[Facilitator] connected")

	relayAddr, err := facilitatorPeerAddress(ai)
	if err != nil {
		return Address{}, err
	}
	return relayAddr, nil
}

// Close shuts down the underlying libp2p host.
func (f *FacilitatorClient) Close() error {
	return f.host.Close()
}

// facilitatorPeerAddress extracts the first IPv4 /udp or /tcp multiaddr
// from a peer's address info, for registration with Relay.SetFacilitator
// so its disconnection is ignored by cleanup rather than treated as a
// stray peer.
func facilitatorPeerAddress(ai *peer.AddrInfo) (Address, error) {
	for _, a := range ai.Addrs {
		ip, err := a.ValueForProtocol(ma.P_IP4)
		if err != nil {
			continue
		}
		port, err := a.ValueForProtocol(ma.P_UDP)
		if err != nil {
			port, err = a.ValueForProtocol(ma.P_TCP)
			if err != nil {
				continue
			}
		}
		udpAddr, err := resolveHostPort(ip, port)
		if err != nil {
			continue
		}
		return udpAddr, nil
	}
	return Address{}, errProtocolf("facilitator peer %s advertised no usable IPv4 address", ai.ID)
}

func resolveHostPort(ip, port string) (Address, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, port))
	if err != nil {
		return Address{}, err
	}
	return AddressFromUDP(udpAddr)
}
