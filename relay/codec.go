package relay

import "encoding/binary"

// Message identifiers for the relay envelope family. Each wire
// envelope is a 1-byte identifier followed by fixed-width fields in the
// transport's byte order (big-endian here, matching
// corev2/serdes.Header's layout).
const (
	MsgProxyServerInit    byte = 0x01 // server<->relay: port lease request/response
	MsgProxyInitMessage   byte = 0x02 // client->relay: client init
	MsgProxyClientMessage byte = 0x03 // client->relay: opaque app payload
	MsgProxyServerMessage byte = 0x04 // server->relay: opaque app payload + clientAddr
	MsgProxyMessage       byte = 0x05 // relay->peer: opaque app payload + originatorAddr
	MsgRequestClientInit  byte = 0x06 // relay->server, nested inside MsgProxyMessage
	MsgInvalidPassword    byte = 0x07 // server->relay->client, forwarded verbatim
)

// clientInitHasPassword and clientInitUseNAT are bit flags in a single
// flags byte; the payload is otherwise byte-aligned, so a byte-oriented
// flags field round-trips identically to a packed bitstream for every
// field this relay cares about.
const (
	clientInitHasPassword byte = 1 << 0
	clientInitUseNAT      byte = 1 << 1
)

func appendInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func readInt32(src []byte) (int32, []byte, error) {
	if len(src) < 4 {
		return 0, nil, errProtocolf("short int32 field: %d bytes", len(src))
	}
	return int32(binary.BigEndian.Uint32(src)), src[4:], nil
}

func appendUint16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func readUint16(src []byte) (uint16, []byte, error) {
	if len(src) < 2 {
		return 0, nil, errProtocolf("short uint16 field: %d bytes", len(src))
	}
	return binary.BigEndian.Uint16(src), src[2:], nil
}

// --- ID_PROXY_SERVER_INIT ---

// EncodeServerInitRequest builds the server->relay lease request.
func EncodeServerInitRequest(protoVer int32) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, MsgProxyServerInit)
	return appendInt32(buf, protoVer)
}

// DecodeServerInitRequest parses a server->relay lease request.
func DecodeServerInitRequest(raw []byte) (protoVer int32, err error) {
	if len(raw) < 1 || raw[0] != MsgProxyServerInit {
		return 0, errProtocolf("not a ProxyServerInit request")
	}
	protoVer, _, err = readInt32(raw[1:])
	return protoVer, err
}

// EncodeServerInitResponse builds the relay->server lease response.
// assignedPort is 0 when the pool is exhausted.
func EncodeServerInitResponse(protoVer int32, assignedPort uint16) []byte {
	buf := make([]byte, 0, 7)
	buf = append(buf, MsgProxyServerInit)
	buf = appendInt32(buf, protoVer)
	return appendUint16(buf, assignedPort)
}

// DecodeServerInitResponse parses a relay->server lease response.
func DecodeServerInitResponse(raw []byte) (protoVer int32, assignedPort uint16, err error) {
	if len(raw) < 1 || raw[0] != MsgProxyServerInit {
		return 0, 0, errProtocolf("not a ProxyServerInit response")
	}
	rest := raw[1:]
	protoVer, rest, err = readInt32(rest)
	if err != nil {
		return 0, 0, err
	}
	assignedPort, _, err = readUint16(rest)
	return protoVer, assignedPort, err
}

// --- ID_PROXY_INIT_MESSAGE ---

// ClientInit is the parsed payload of a client->relay init message.
type ClientInit struct {
	ProtoVer   int32
	Target     Address
	Password   []byte
	HasPass    bool
	UseNAT     bool
	ClientVer  int32
}

// EncodeClientInit builds a client->relay init message.
func EncodeClientInit(m ClientInit) []byte {
	buf := make([]byte, 0, 32+len(m.Password))
	buf = append(buf, MsgProxyInitMessage)
	buf = appendInt32(buf, m.ProtoVer)
	buf = m.Target.Encode(buf)

	var flags byte
	if m.HasPass {
		flags |= clientInitHasPassword
	}
	if m.UseNAT {
		flags |= clientInitUseNAT
	}
	buf = append(buf, flags)

	if m.HasPass {
		buf = appendInt32(buf, int32(len(m.Password)))
		buf = append(buf, m.Password...)
	}
	buf = appendInt32(buf, m.ClientVer)
	return buf
}

// DecodeClientInit parses a client->relay init message.
func DecodeClientInit(raw []byte) (ClientInit, error) {
	var m ClientInit
	if len(raw) < 1 || raw[0] != MsgProxyInitMessage {
		return m, errProtocolf("not a ProxyInitMessage")
	}
	rest := raw[1:]

	var err error
	m.ProtoVer, rest, err = readInt32(rest)
	if err != nil {
		return m, err
	}
	m.Target, rest, err = DecodeAddress(rest)
	if err != nil {
		return m, err
	}
	if len(rest) < 1 {
		return m, errProtocolf("missing ClientInit flags byte")
	}
	flags := rest[0]
	rest = rest[1:]
	m.HasPass = flags&clientInitHasPassword != 0
	m.UseNAT = flags&clientInitUseNAT != 0

	if m.HasPass {
		var pwLen int32
		pwLen, rest, err = readInt32(rest)
		if err != nil {
			return m, err
		}
		if pwLen < 0 || int(pwLen) > len(rest) {
			return m, errProtocolf("invalid ClientInit password length %d", pwLen)
		}
		m.Password = append([]byte(nil), rest[:pwLen]...)
		rest = rest[pwLen:]
	}

	m.ClientVer, _, err = readInt32(rest)
	return m, err
}

// --- ID_PROXY_MESSAGE and ID_REQUEST_CLIENT_INIT ---

// EncodeProxyMessage wraps an opaque payload in the relay->peer envelope,
// attaching the originator's address so the peer can learn who it is
// talking to.
func EncodeProxyMessage(originator Address, payload []byte) []byte {
	out := make([]byte, 0, 1+AddressSize+len(payload))
	out = append(out, MsgProxyMessage)
	out = originator.Encode(out)
	return append(out, payload...)
}

// DecodeProxyMessage unwraps a relay->peer envelope.
func DecodeProxyMessage(raw []byte) (originator Address, payload []byte, err error) {
	if len(raw) < 1 || raw[0] != MsgProxyMessage {
		return Address{}, nil, errProtocolf("not a ProxyMessage")
	}
	return DecodeAddress(raw[1:])
}

// EncodeRequestClientInit builds the ID_REQUEST_CLIENT_INIT payload that
// travels nested inside a ProxyMessage sent to a server announcing a new
// client.
func EncodeRequestClientInit(protoVer, clientVer int32) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, MsgRequestClientInit)
	buf = appendInt32(buf, protoVer)
	return appendInt32(buf, clientVer)
}

// DecodeRequestClientInit parses an ID_REQUEST_CLIENT_INIT payload.
func DecodeRequestClientInit(raw []byte) (protoVer, clientVer int32, err error) {
	if len(raw) < 1 || raw[0] != MsgRequestClientInit {
		return 0, 0, errProtocolf("not a RequestClientInit")
	}
	rest := raw[1:]
	protoVer, rest, err = readInt32(rest)
	if err != nil {
		return 0, 0, err
	}
	clientVer, _, err = readInt32(rest)
	return protoVer, clientVer, err
}

// EncodeClientInitNotification builds the full relay->server notification
// sent (queued or immediate) whenever a client init arrives: a ProxyMessage
// whose payload is a RequestClientInit, originated by the client.
func EncodeClientInitNotification(client Address, protoVer, clientVer int32) []byte {
	return EncodeProxyMessage(client, EncodeRequestClientInit(protoVer, clientVer))
}

// --- ID_PROXY_SERVER_MESSAGE ---

// DecodeServerMessage unwraps a server->relay envelope on the listen
// port, returning the embedded client address and the opaque tail that
// must be forwarded to that client starting at wire offset 7 (1-byte ID
// + 6-byte Address).
func DecodeServerMessage(raw []byte) (client Address, tail []byte, err error) {
	if len(raw) < 1 || raw[0] != MsgProxyServerMessage {
		return Address{}, nil, errProtocolf("not a ProxyServerMessage")
	}
	return DecodeAddress(raw[1:])
}

// --- Envelope rewriting arithmetic ---

// clientMessagePrefixLen is the number of bytes prepended ahead of the
// application payload in a ID_PROXY_CLIENT_MESSAGE packet in the common
// case: 1-byte ID + 10-byte application sub-header.
const clientMessagePrefixLen = 11

// RewriteClientToServer strips a client->server ID_PROXY_CLIENT_MESSAGE
// envelope's leading clientMessagePrefixLen bytes and rewraps the
// remaining application bytes in a ID_PROXY_MESSAGE envelope carrying the
// client's address. This single function backs both the "connected"
// immediate-send path and the "unconnected" queued path, so both branches
// produce identical bytes for a given payload by construction.
func RewriteClientToServer(client Address, raw []byte) ([]byte, error) {
	if len(raw) < clientMessagePrefixLen {
		return nil, errProtocolf("client message shorter than envelope prefix: %d bytes", len(raw))
	}
	tail := raw[clientMessagePrefixLen:]
	return EncodeProxyMessage(client, tail), nil
}
