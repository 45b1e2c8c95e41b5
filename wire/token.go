// Package wire implements the on-the-wire types shared by every session in
// this module: the length-prefixed framing every stream uses, the 24-byte
// Token clients present to subscribe, and the 8-byte CommandHeader that
// prefixes every multi-GPU control message. All integers are little-endian,
// written explicitly via encoding/binary — never host-order reinterpreted.
package wire

import "encoding/binary"

// Protocol identifies the transport a Token's endpoint is reachable on.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

// AddressFamily identifies how the 16 address bytes of a Token are to be
// interpreted.
type AddressFamily uint8

const (
	AddressFamilyIPv4 AddressFamily = iota
	AddressFamilyIPv6
)

// TokenSize is the fixed wire size of a Token, per the data model: protocol
// (1) + stream_id (4) + port (2) + address (16) + address_family (1).
const TokenSize = 1 + 4 + 2 + 16 + 1

// Token is the opaque 24-byte handle a client presents to subscribe to a
// Stream. stream_id is minted by the primary and is unique for the
// process's lifetime.
type Token struct {
	Protocol      Protocol
	StreamID      uint32
	Port          uint16
	Address       [16]byte
	AddressFamily AddressFamily
}

// Encode writes the Token's 24-byte wire representation into dst, which
// must be at least TokenSize long.
func (t Token) Encode(dst []byte) {
	_ = dst[:TokenSize] // bounds check hint
	dst[0] = byte(t.Protocol)
	binary.LittleEndian.PutUint32(dst[1:5], t.StreamID)
	binary.LittleEndian.PutUint16(dst[5:7], t.Port)
	copy(dst[7:23], t.Address[:])
	dst[23] = byte(t.AddressFamily)
}

// Bytes returns the Token's 24-byte wire encoding.
func (t Token) Bytes() []byte {
	b := make([]byte, TokenSize)
	t.Encode(b)
	return b
}

// DecodeToken parses a 24-byte wire Token. src must be at least TokenSize
// long.
func DecodeToken(src []byte) (t Token) {
	_ = src[:TokenSize]
	t.Protocol = Protocol(src[0])
	t.StreamID = binary.LittleEndian.Uint32(src[1:5])
	t.Port = binary.LittleEndian.Uint16(src[5:7])
	copy(t.Address[:], src[7:23])
	t.AddressFamily = AddressFamily(src[23])
	return t
}
