package fsession

import (
	"testing"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/window"
)

func newTestSession(t *testing.T) (*Session, *window.Window) {
	t.Helper()
	w := window.New(fugueid.New(), "main", fugueid.New())
	s := New(fugueid.New(), "my-session", w)
	return s, w
}

func TestCreateWindow_DoesNotChangeActive(t *testing.T) {
	s, w1 := newTestSession(t)
	w2 := window.New(fugueid.New(), "second", fugueid.New())
	s.CreateWindow(w2)

	active, err := s.ActiveWindow()
	if err != nil {
		t.Fatalf("ActiveWindow() error = %v", err)
	}
	if active.ID() != w1.ID() {
		t.Fatalf("ActiveWindow() = %v, want original window %v unchanged", active.ID(), w1.ID())
	}
	if len(s.Windows()) != 2 {
		t.Fatalf("Windows() len = %d, want 2", len(s.Windows()))
	}
}

func TestSelectWindow_SwitchesActive(t *testing.T) {
	s, _ := newTestSession(t)
	w2 := window.New(fugueid.New(), "second", fugueid.New())
	s.CreateWindow(w2)

	if err := s.SelectWindow(w2.ID()); err != nil {
		t.Fatalf("SelectWindow() error = %v", err)
	}
	active, _ := s.ActiveWindow()
	if active.ID() != w2.ID() {
		t.Fatalf("ActiveWindow() = %v, want %v", active.ID(), w2.ID())
	}
}

func TestSelectWindow_UnknownIsNotFound(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.SelectWindow(fugueid.New()); !fugueerr.Is(err, fugueerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestRemoveWindow_ActiveMovesToRemaining(t *testing.T) {
	s, w1 := newTestSession(t)
	w2 := window.New(fugueid.New(), "second", fugueid.New())
	s.CreateWindow(w2)
	s.SelectWindow(w1.ID())

	if err := s.RemoveWindow(w1.ID()); err != nil {
		t.Fatalf("RemoveWindow() error = %v", err)
	}
	active, err := s.ActiveWindow()
	if err != nil {
		t.Fatalf("ActiveWindow() error = %v", err)
	}
	if active.ID() != w2.ID() {
		t.Fatalf("ActiveWindow() = %v, want remaining window %v", active.ID(), w2.ID())
	}
}

func TestRemoveWindow_LastWindowLeavesSessionEmpty(t *testing.T) {
	s, w1 := newTestSession(t)
	if err := s.RemoveWindow(w1.ID()); err != nil {
		t.Fatalf("RemoveWindow() error = %v", err)
	}
	if !s.IsEmpty() {
		t.Fatal("expected session to be empty after removing its only window")
	}
	if _, err := s.ActiveWindow(); !fugueerr.Is(err, fugueerr.NotFound) {
		t.Fatalf("ActiveWindow() err = %v, want NotFound", err)
	}
}

func TestChildTagName_ExtractsSuffix(t *testing.T) {
	s, _ := newTestSession(t)
	s.TagsAdd("child:worker-3")
	s.TagsAdd("urgent")

	name, ok := s.ChildTagName()
	if !ok || name != "worker-3" {
		t.Fatalf("ChildTagName() = (%q, %v), want (worker-3, true)", name, ok)
	}
}

func TestChildTagName_AbsentWhenNoChildTag(t *testing.T) {
	s, _ := newTestSession(t)
	s.TagsAdd("urgent")
	if _, ok := s.ChildTagName(); ok {
		t.Fatal("expected no child tag")
	}
}

func TestMetadataAndEnv_RoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	s.MetadataSet("owner", "alice")
	if v, ok := s.MetadataGet("owner"); !ok || v != "alice" {
		t.Fatalf("MetadataGet() = (%q, %v)", v, ok)
	}
	s.EnvSet("FUGUE_PROFILE", "ci")
	if v, ok := s.EnvGet("FUGUE_PROFILE"); !ok || v != "ci" {
		t.Fatalf("EnvGet() = (%q, %v)", v, ok)
	}
}
