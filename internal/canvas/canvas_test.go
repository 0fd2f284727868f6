package canvas

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUpdateReplacesPayload(t *testing.T) {
	w := New("status", json.RawMessage(`{"n":1}`))
	w.Update(json.RawMessage(`{"n":2}`))
	kind, payload := w.Snapshot()
	if kind != "status" || string(payload) != `{"n":2}` {
		t.Fatalf("snapshot = %s %s", kind, payload)
	}
}

func TestHandleInputWithoutHandlerIsDropped(t *testing.T) {
	w := New("diff", nil)
	if err := w.HandleInput([]byte("j")); err != nil {
		t.Fatalf("input to handlerless canvas should be dropped, got %v", err)
	}
}

func TestHandleInputDispatchesToHandler(t *testing.T) {
	w := New("diff", nil)
	wantErr := errors.New("bad key")
	var got []byte
	w.InputHandler = func(input []byte) error {
		got = append([]byte(nil), input...)
		return wantErr
	}
	if err := w.HandleInput([]byte("q")); err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if string(got) != "q" {
		t.Fatalf("handler received %q, want q", got)
	}
}
