// Package wire implements fugue's external frame format: a
// length-prefixed envelope carrying a protocol version, a message
// kind, a request-id for response correlation, and a JSON payload.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is bumped whenever the frame header or a request kind
// changes shape in a way old clients cannot ignore.
const ProtocolVersion = 1

// maxPayload guards against a corrupt or hostile length prefix causing
// an enormous allocation.
const maxPayload = 32 * 1024 * 1024

// Kind discriminates requests, responses, and broadcasts so a
// connection's read loop can route without peeking into the payload.
// The broadcast kinds are a disjoint, exhaustive set from response
// kinds - a broadcast kind missing from a client-side filter shows up
// as a stale "response" polluting some later read.
type Kind uint16

const (
	// Request/response kinds.
	KindRequest  Kind = 1
	KindResponse Kind = 2

	// Broadcast kinds, disjoint from request/response, starting at a
	// fixed offset so the two ranges never collide even as each grows
	// independently.
	KindSessionCreated        Kind = 1000
	KindSessionFocused        Kind = 1001
	KindSessionKilled         Kind = 1002
	KindWindowCreated         Kind = 1003
	KindWindowFocused         Kind = 1004
	KindPaneCreated           Kind = 1005
	KindPaneClosed            Kind = 1006
	KindPaneFocused           Kind = 1007
	KindPaneResized           Kind = 1008
	KindPaneStateChanged      Kind = 1009
	KindOutput                Kind = 1010
	KindOrchestrationReceived Kind = 1011
	KindPaneCrash             Kind = 1012
)

// IsBroadcast reports whether k is one of the disjoint broadcast kinds.
func (k Kind) IsBroadcast() bool {
	return k >= 1000
}

// Envelope is one frame's logical contents, independent of wire
// encoding.
type Envelope struct {
	Version   uint8
	Kind      Kind
	RequestID string
	Payload   json.RawMessage
}

// WriteEnvelope serializes env as [version(1)][kind(2)][reqid-len(2)][reqid][payload-len(4)][payload].
func WriteEnvelope(w io.Writer, env Envelope) error {
	reqID := []byte(env.RequestID)
	if len(reqID) > 0xFFFF {
		return fmt.Errorf("wire: request id too long (%d bytes)", len(reqID))
	}
	if len(env.Payload) > maxPayload {
		return fmt.Errorf("wire: payload too large (%d bytes)", len(env.Payload))
	}

	header := make([]byte, 1+2+2)
	header[0] = ProtocolVersion
	binary.BigEndian.PutUint16(header[1:3], uint16(env.Kind))
	binary.BigEndian.PutUint16(header[3:5], uint16(len(reqID)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(reqID) > 0 {
		if _, err := w.Write(reqID); err != nil {
			return err
		}
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(env.Payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if len(env.Payload) > 0 {
		if _, err := w.Write(env.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadEnvelope reads one frame written by WriteEnvelope.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Envelope{}, err
	}
	version := header[0]
	kind := Kind(binary.BigEndian.Uint16(header[1:3]))
	reqIDLen := binary.BigEndian.Uint16(header[3:5])

	reqID := make([]byte, reqIDLen)
	if reqIDLen > 0 {
		if _, err := io.ReadFull(r, reqID); err != nil {
			return Envelope{}, err
		}
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Envelope{}, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf)
	if payloadLen > maxPayload {
		return Envelope{}, fmt.Errorf("wire: frame too large: %d bytes", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Envelope{}, err
		}
	}
	return Envelope{Version: version, Kind: kind, RequestID: string(reqID), Payload: payload}, nil
}

// EncodePayload is a convenience wrapper around json.Marshal for callers
// building an Envelope.
func EncodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
