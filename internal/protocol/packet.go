package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the fixed packet header.
const HeaderSize = 8

var (
	ErrShortPacket    = errors.New("protocol: datagram shorter than header")
	ErrChecksum       = errors.New("protocol: checksum mismatch")
	ErrUnknownKind    = errors.New("protocol: unknown packet kind")
	ErrLengthMismatch = errors.New("protocol: payload length disagrees with datagram length")
	ErrPacketTooLarge = errors.New("protocol: packet exceeds maximum length")
)

// Header opens every datagram.
type Header struct {
	Checksum  uint32
	Ack       uint8
	AckReturn uint8
	Kind      Kind
	Reserved  uint8
}

// Packet is a decoded datagram. Payload aliases the datagram it came from.
type Packet struct {
	Header  Header
	Payload []byte
}

// Kind is a shorthand for p.Header.Kind.
func (p Packet) Kind() Kind {
	return p.Header.Kind
}

// Encode builds a datagram in a freshly allocated buffer.
func Encode(kind Kind, ack, ackReturn uint8, payload []byte) ([]byte, error) {
	size := HeaderSize + len(payload)
	if size > MaxPacketLength {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrPacketTooLarge, size, kind)
	}
	buf := make([]byte, HeaderSize, size)
	buf[4] = ack
	buf[5] = ackReturn
	buf[6] = byte(kind)
	buf = append(buf, payload...)
	binary.LittleEndian.PutUint32(buf[0:4], checksum(buf[4:]))
	return buf, nil
}

// Decode validates a datagram's header and checksum. The payload is checked
// by the kind-specific decoder.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	header := Header{
		Checksum:  binary.LittleEndian.Uint32(datagram[0:4]),
		Ack:       datagram[4],
		AckReturn: datagram[5],
		Kind:      Kind(datagram[6]),
		Reserved:  datagram[7],
	}
	if header.Checksum != checksum(datagram[4:]) {
		return Packet{Header: header}, ErrChecksum
	}
	if !header.Kind.Valid() {
		return Packet{Header: header}, fmt.Errorf("%w: %d", ErrUnknownKind, datagram[6])
	}
	return Packet{Header: header, Payload: datagram[HeaderSize:]}, nil
}

// Malformed reports decode failures that close the sending node.
func Malformed(err error) bool {
	return errors.Is(err, ErrShortPacket) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrLengthMismatch)
}

func checksum(buf []byte) uint32 {
	c := uint32(0x1234567)
	for i, b := range buf {
		c += uint32(b) * uint32(i+1)
	}
	return c
}

// DecodeEmpty checks the payload of kinds that carry no data.
func DecodeEmpty(payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: %d unexpected bytes", ErrLengthMismatch, len(payload))
	}
	return nil
}
