package store

import (
	"testing"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/layout"
	"fugue/internal/pane"
	"fugue/internal/window"
)

func newCanvasPane(t *testing.T, title string) *pane.Pane {
	t.Helper()
	return pane.NewCanvas(pane.Options{
		WindowID: fugueid.New(),
		Title:    title,
		Rows:     24,
		Cols:     80,
	}, "status", []byte(`{}`))
}

func TestCreateSession_RejectsDuplicateName(t *testing.T) {
	st := New()
	p := newCanvasPane(t, "root")
	w := window.New(fugueid.New(), "main", p.ID())

	err := st.Transact(func(tx *Tx) error {
		_, err := tx.CreateSession(fugueid.New(), "dup", w, p)
		return err
	})
	if err != nil {
		t.Fatalf("first CreateSession error = %v", err)
	}

	err = st.Transact(func(tx *Tx) error {
		p2 := newCanvasPane(t, "root2")
		w2 := window.New(fugueid.New(), "main2", p2.ID())
		_, err := tx.CreateSession(fugueid.New(), "dup", w2, p2)
		return err
	})
	if !fugueerr.Is(err, fugueerr.Conflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
}

func TestListSessions_SortedByName(t *testing.T) {
	st := New()
	names := []string{"zeta", "alpha", "mike"}
	for _, name := range names {
		name := name
		p := newCanvasPane(t, "root")
		w := window.New(fugueid.New(), "main", p.ID())
		err := st.Transact(func(tx *Tx) error {
			_, err := tx.CreateSession(fugueid.New(), name, w, p)
			return err
		})
		if err != nil {
			t.Fatalf("CreateSession(%q) error = %v", name, err)
		}
	}

	var got []string
	st.View(func(tx *Tx) {
		for _, s := range tx.ListSessions() {
			got = append(got, s.Name())
		}
	})
	want := []string{"alpha", "mike", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListSessions() = %v, want %v", got, want)
		}
	}
}

func setupSession(t *testing.T, st *Store, name string) (sessionID, windowID fugueid.ID, root *pane.Pane) {
	t.Helper()
	root = newCanvasPane(t, "root")
	w := window.New(fugueid.New(), "main", root.ID())
	var sid fugueid.ID
	err := st.Transact(func(tx *Tx) error {
		sid = fugueid.New()
		_, err := tx.CreateSession(sid, name, w, root)
		return err
	})
	if err != nil {
		t.Fatalf("CreateSession error = %v", err)
	}
	return sid, w.ID(), root
}

func TestAddPaneAndResolvePane(t *testing.T) {
	st := New()
	sid, wid, root := setupSession(t, st, "work")
	child := newCanvasPane(t, "logs")

	err := st.Transact(func(tx *Tx) error {
		return tx.AddPane(sid, wid, root.ID(), child, layout.Horizontal, 0.5)
	})
	if err != nil {
		t.Fatalf("AddPane() error = %v", err)
	}

	var resolved fugueid.ID
	st.View(func(tx *Tx) {
		resolved, err = tx.ResolvePane("work", "", "logs")
	})
	if err != nil {
		t.Fatalf("ResolvePane() error = %v", err)
	}
	if resolved != child.ID() {
		t.Fatalf("ResolvePane() = %v, want %v", resolved, child.ID())
	}
}

func TestRemovePane_EmptiesWindowAndClearsTables(t *testing.T) {
	st := New()
	sid, wid, root := setupSession(t, st, "work")

	var emptied bool
	err := st.Transact(func(tx *Tx) error {
		var err error
		emptied, err = tx.RemovePane(root.ID())
		return err
	})
	if err != nil {
		t.Fatalf("RemovePane() error = %v", err)
	}
	if !emptied {
		t.Fatal("expected window to be emptied")
	}

	st.View(func(tx *Tx) {
		if _, err := tx.Pane(root.ID()); !fugueerr.Is(err, fugueerr.NotFound) {
			t.Fatalf("Pane() after removal err = %v, want NotFound", err)
		}
		s, err := tx.Session(sid)
		if err != nil {
			t.Fatalf("Session() error = %v", err)
		}
		if len(s.Windows()) != 0 {
			t.Fatalf("session still has windows: %v", s.Windows())
		}
	})
	_ = wid
}

func TestRemoveSession_ReturnsPaneIDsForCleanup(t *testing.T) {
	st := New()
	sid, wid, root := setupSession(t, st, "work")
	child := newCanvasPane(t, "logs")
	if err := st.Transact(func(tx *Tx) error {
		return tx.AddPane(sid, wid, root.ID(), child, layout.Vertical, 0.5)
	}); err != nil {
		t.Fatalf("AddPane() error = %v", err)
	}

	var removed []fugueid.ID
	err := st.Transact(func(tx *Tx) error {
		var err error
		removed, err = tx.RemoveSession(sid)
		return err
	})
	if err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("RemoveSession() returned %d pane ids, want 2", len(removed))
	}
	st.View(func(tx *Tx) {
		if _, err := tx.Session(sid); !fugueerr.Is(err, fugueerr.NotFound) {
			t.Fatalf("Session() after removal err = %v, want NotFound", err)
		}
	})
}

func TestMirrorRegistry_AddAndLookup(t *testing.T) {
	st := New()
	source := fugueid.New()
	mirror := fugueid.New()
	mirrorSession := fugueid.New()

	st.Transact(func(tx *Tx) error {
		tx.AddMirror(source, mirror, mirrorSession)
		return nil
	})

	var mirrors []fugueid.ID
	var sess fugueid.ID
	var ok bool
	st.View(func(tx *Tx) {
		mirrors = tx.MirrorsOf(source)
		sess, ok = tx.MirrorSession(mirror)
	})
	if len(mirrors) != 1 || mirrors[0] != mirror {
		t.Fatalf("MirrorsOf() = %v, want [%v]", mirrors, mirror)
	}
	if !ok || sess != mirrorSession {
		t.Fatalf("MirrorSession() = (%v, %v), want (%v, true)", sess, ok, mirrorSession)
	}
}

func TestCreateWindow_AddsTabWithoutChangingActive(t *testing.T) {
	st := New()
	sid, _, _ := setupSession(t, st, "work")
	second := newCanvasPane(t, "root2")

	var w2ID fugueid.ID
	err := st.Transact(func(tx *Tx) error {
		w2ID = fugueid.New()
		_, err := tx.CreateWindow(sid, w2ID, "second", second)
		return err
	})
	if err != nil {
		t.Fatalf("CreateWindow() error = %v", err)
	}

	st.View(func(tx *Tx) {
		s, err := tx.Session(sid)
		if err != nil {
			t.Fatalf("Session() error = %v", err)
		}
		if len(s.Windows()) != 2 {
			t.Fatalf("Windows() len = %d, want 2", len(s.Windows()))
		}
		active, err := s.ActiveWindow()
		if err != nil {
			t.Fatalf("ActiveWindow() error = %v", err)
		}
		if active.ID() == w2ID {
			t.Fatal("creating a window must not change the active window")
		}
	})

	err = st.Transact(func(tx *Tx) error {
		return tx.SelectWindow(sid, w2ID)
	})
	if err != nil {
		t.Fatalf("SelectWindow() error = %v", err)
	}
	st.View(func(tx *Tx) {
		s, _ := tx.Session(sid)
		active, _ := s.ActiveWindow()
		if active.ID() != w2ID {
			t.Fatalf("ActiveWindow() = %v, want %v", active.ID(), w2ID)
		}
	})
}

func TestRenameSession_UpdatesNameIndex(t *testing.T) {
	st := New()
	sid, _, _ := setupSession(t, st, "old-name")
	err := st.Transact(func(tx *Tx) error {
		return tx.RenameSession(sid, "new-name")
	})
	if err != nil {
		t.Fatalf("RenameSession() error = %v", err)
	}
	st.View(func(tx *Tx) {
		if _, err := tx.SessionByName("old-name"); !fugueerr.Is(err, fugueerr.NotFound) {
			t.Fatalf("SessionByName(old) err = %v, want NotFound", err)
		}
		if _, err := tx.SessionByName("new-name"); err != nil {
			t.Fatalf("SessionByName(new) error = %v", err)
		}
	})
}
