// Package echonet implements the ECHONET-Lite binary frame codec used over
// the Wi-SUN B-route: encoding property-read requests and decoding the
// property-read/notification responses carried inside SKSENDTO/ERXUDP.
//
// The codec is pure: no I/O, no logging, no shared mutable state beyond the
// per-owner transaction id counter described in Counter.
package echonet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Fixed ECHONET-Lite object/service codes this daemon ever uses. The B-route
// side always talks to one class of peer: the low-voltage smart meter.
const (
	Header           uint16 = 0x1081   // EHD: ECHONET Lite, format 1
	ControllerObject uint32 = 0x05FF01 // SEOJ: this daemon, as controller
	SmartMeterObject uint32 = 0x028801 // DEOJ: low-voltage smart meter

	ServiceGet         byte = 0x62 // ESV: property value read request
	ServiceGetResponse byte = 0x72 // ESV: property value read response
	ServiceNotify      byte = 0x73 // ESV: property value periodic notification
)

var (
	ErrTooShort          = errors.New("echonet: frame too short")
	ErrBadHeader         = errors.New("echonet: unrecognized EHD")
	ErrInvalidLength     = errors.New("echonet: DATALEN does not match DATA length")
	ErrInvalidHex        = errors.New("echonet: DATA is not valid hex")
	ErrTruncatedProperty = errors.New("echonet: OPC properties run past end of frame")
)

// Property is one EPC/PDC/EDT triple.
type Property struct {
	EPC byte
	EDT []byte
}

// Frame is the decoded (or about-to-be-encoded) form of an ECHONET-Lite
// message.
type Frame struct {
	TID        uint16
	SEOJ       uint32
	DEOJ       uint32
	ESV        byte
	Properties []Property
}

// Counter is a process-confined, monotonically increasing transaction id
// generator. Per the redesign note in SPEC_FULL.md §9, the original's
// process-wide TID counter is confined to whichever worker owns the dongle
// (there is exactly one requester), so this type carries no locking.
type Counter struct {
	next uint16
}

// Next returns the next TID and advances the counter, wrapping modulo
// 0xFFFF — the original's (TID + 1) % 0xffff, preserved here rather than
// "fixed" to the more obvious 0x10000 wraparound.
func (c *Counter) Next() uint16 {
	v := c.next
	c.next = (c.next + 1) % 0xFFFF
	return v
}

// NewRequest builds a property-read request frame for the given EPC list,
// addressed from the controller object to the smart meter object.
func NewRequest(tid uint16, epcs []byte) *Frame {
	props := make([]Property, len(epcs))
	for i, epc := range epcs {
		props[i] = Property{EPC: epc}
	}
	return &Frame{
		TID:        tid,
		SEOJ:       ControllerObject,
		DEOJ:       SmartMeterObject,
		ESV:        ServiceGet,
		Properties: props,
	}
}

// Encode renders the frame as the binary bytes SKSENDTO expects.
func (f *Frame) Encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, Header)
	binary.Write(buf, binary.BigEndian, f.TID)
	buf.Write(object3(f.SEOJ))
	buf.Write(object3(f.DEOJ))
	buf.WriteByte(f.ESV)
	buf.WriteByte(byte(len(f.Properties)))
	for _, p := range f.Properties {
		buf.WriteByte(p.EPC)
		buf.WriteByte(byte(len(p.EDT)))
		buf.Write(p.EDT)
	}
	return buf.Bytes()
}

func object3(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// DecodeFrame decodes a response frame from the DATALEN (4-hex-digit
// string, as carried by ERXUDP) and DATA (ASCII-hex payload) fields of a
// received event.
func DecodeFrame(datalenHex, dataHex string) (*Frame, error) {
	datalen, err := parseHexInt(datalenHex)
	if err != nil {
		return nil, fmt.Errorf("%w: DATALEN %q", ErrInvalidHex, datalenHex)
	}
	if len(dataHex)%2 != 0 || len(dataHex)/2 != datalen {
		return nil, ErrInvalidLength
	}
	raw, err := hex.DecodeString(dataHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return Decode(raw)
}

// Decode parses a raw ECHONET-Lite frame already stripped of its hex
// encoding.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < 12 {
		return nil, ErrTooShort
	}
	if binary.BigEndian.Uint16(raw[0:2]) != Header {
		return nil, fmt.Errorf("%w: %02X%02X", ErrBadHeader, raw[0], raw[1])
	}
	f := &Frame{
		TID:  binary.BigEndian.Uint16(raw[2:4]),
		SEOJ: decodeObject3(raw[4:7]),
		DEOJ: decodeObject3(raw[7:10]),
		ESV:  raw[10],
	}
	opc := int(raw[11])
	f.Properties = make([]Property, 0, opc)
	i := 12
	for j := 0; j < opc; j++ {
		if len(raw) < i+2 {
			return nil, ErrTruncatedProperty
		}
		epc := raw[i]
		pdc := int(raw[i+1])
		if len(raw) < i+2+pdc {
			return nil, ErrTruncatedProperty
		}
		edt := make([]byte, pdc)
		copy(edt, raw[i+2:i+2+pdc])
		f.Properties = append(f.Properties, Property{EPC: epc, EDT: edt})
		i += 2 + pdc
	}
	return f, nil
}

func decodeObject3(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func parseHexInt(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Property looks up the EDT for epc, returning ok=false if the frame does
// not carry that property.
func (f *Frame) Property(epc byte) ([]byte, bool) {
	for _, p := range f.Properties {
		if p.EPC == epc {
			return p.EDT, true
		}
	}
	return nil, false
}

// String renders a short hex dump for debug logging, mirroring the
// original's logger.debug(dataframe.hex()) trace line.
func (f *Frame) String() string {
	return hex.EncodeToString(f.Encode())
}

// IsSmartMeterResponse reports whether the frame is a property response or
// notification from the low-voltage smart meter object — the only frames
// the B-route worker's acceptor processes.
func (f *Frame) IsSmartMeterResponse() bool {
	return f.SEOJ == SmartMeterObject && (f.ESV == ServiceGetResponse || f.ESV == ServiceNotify)
}
