package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadEnvelope_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload, err := EncodePayload(map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	in := Envelope{Version: ProtocolVersion, Kind: KindRequest, RequestID: "req-1", Payload: payload}
	if err := WriteEnvelope(&buf, in); err != nil {
		t.Fatalf("WriteEnvelope() error = %v", err)
	}

	out, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if out.Kind != in.Kind || out.RequestID != in.RequestID || string(out.Payload) != string(in.Payload) {
		t.Fatalf("ReadEnvelope() = %+v, want %+v", out, in)
	}
}

func TestKind_IsBroadcastDisjointFromResponse(t *testing.T) {
	if KindResponse.IsBroadcast() {
		t.Fatal("KindResponse must not be a broadcast kind")
	}
	if !KindOutput.IsBroadcast() {
		t.Fatal("KindOutput must be a broadcast kind")
	}
}

func TestReadEnvelope_MultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	WriteEnvelope(&buf, Envelope{Version: ProtocolVersion, Kind: KindRequest, RequestID: "a"})
	WriteEnvelope(&buf, Envelope{Version: ProtocolVersion, Kind: KindResponse, RequestID: "a"})

	first, err := ReadEnvelope(&buf)
	if err != nil || first.RequestID != "a" || first.Kind != KindRequest {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	second, err := ReadEnvelope(&buf)
	if err != nil || second.Kind != KindResponse {
		t.Fatalf("second = %+v, err = %v", second, err)
	}
}
