package outputpump

import (
	"bytes"
	"testing"

	"fugue/internal/fugueid"
)

func TestOutputRecordRoundTrip(t *testing.T) {
	id := fugueid.New()
	data := []byte("line one\nline \x1b[31mtwo\x1b[0m\n")

	rec, err := DecodeOutputRecord(encodeOutputRecord(id, data))
	if err != nil {
		t.Fatalf("DecodeOutputRecord() error = %v", err)
	}
	if rec.PaneID != id {
		t.Fatalf("pane id = %s, want %s", rec.PaneID, id)
	}
	if !bytes.Equal(rec.Bytes, data) {
		t.Fatalf("bytes = %q, want %q", rec.Bytes, data)
	}
}

func TestDecodeOutputRecordTruncated(t *testing.T) {
	if _, err := DecodeOutputRecord([]byte{0}); err == nil {
		t.Fatal("expected error for truncated header")
	}
	// Header claims a longer pane id than the payload holds.
	if _, err := DecodeOutputRecord([]byte{0, 10, 'a', 'b'}); err == nil {
		t.Fatal("expected error for short pane id")
	}
}
