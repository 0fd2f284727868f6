package daemon

import (
	"encoding/json"
	"log"
	"os"

	"fugue/internal/dispatcher"
	"fugue/internal/fsession"
	"fugue/internal/fugueid"
	"fugue/internal/outputpump"
	"fugue/internal/pane"
	"fugue/internal/store"
	"fugue/internal/walog"
	"fugue/internal/window"
)

// recovered summarizes what startup recovery rebuilt.
type recovered struct {
	sessions  []fugueid.ID
	respawned []*pane.Pane
	inactive  int
}

// recover restores the daemon's topology: latest checkpoint first, then
// every WAL record past the checkpoint's floor sequence. Returns the
// highest sequence observed so the fresh WAL resumes numbering past it.
func (d *Daemon) recover() (recovered, uint64, error) {
	var rec recovered

	ckpt, err := walog.LoadLatestCheckpoint(d.checkpointDir())
	if err != nil {
		return rec, 0, err
	}
	var floor uint64
	if ckpt != nil {
		floor = ckpt.WALFloor
		var topo store.Topology
		if err := json.Unmarshal(ckpt.Topology, &topo); err != nil {
			return rec, 0, err
		}
		for _, st := range topo.Sessions {
			d.restoreSession(&rec, st)
		}
	}

	maxSeq := floor
	err = walog.Replay(d.walDir(), floor, func(r walog.Record) error {
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
		switch r.Kind {
		case walog.KindMutation:
			d.replayMutation(&rec, r.Payload)
		case walog.KindOutput:
			d.replayOutput(r.Payload)
		}
		return nil
	})
	if err != nil {
		return rec, 0, err
	}
	return rec, maxSeq, nil
}

// restoreSession rebuilds one session from a checkpoint topology entry.
// Replay tolerance: a session that already exists (the checkpoint and a
// replayed create_session mutation covering the same entity) is skipped.
func (d *Daemon) restoreSession(rec *recovered, st store.SessionTopology) {
	panes := make(map[fugueid.ID]*pane.Pane, len(st.Panes))
	for _, ps := range st.Panes {
		panes[ps.ID] = d.restorePane(rec, ps)
	}
	windows := make(map[fugueid.ID]*window.Window, len(st.Session.Windows))
	for _, ws := range st.Session.Windows {
		windows[ws.ID] = window.Restore(ws)
	}
	sess := fsession.Restore(st.Session, windows)

	err := d.st.Transact(func(tx *store.Tx) error {
		return tx.InsertSession(sess, panes)
	})
	if err != nil {
		log.Printf("warning: recovery: session %q: %v", st.Session.Name, err)
		return
	}
	rec.sessions = append(rec.sessions, sess.ID())
}

// restorePane rebuilds one pane, respawning its recorded command when
// the daemon is configured to, and otherwise bringing it back
// Restored-Inactive with its scrollback tail intact.
func (d *Daemon) restorePane(rec *recovered, ps pane.Snapshot) *pane.Pane {
	if d.Cfg.RespawnOnRestore && ps.Kind == pane.KindTerminal && ps.Command != nil {
		p, err := pane.RestoreTerminal(ps, os.Environ(), nil)
		if err == nil {
			rec.respawned = append(rec.respawned, p)
			return p
		}
		log.Printf("warning: recovery: respawn pane %s (%s): %v; restoring inactive", ps.ID, ps.Command.Command, err)
	}
	rec.inactive++
	return pane.RestoreInactive(ps, nil)
}

// replayMutation applies one WAL mutation record on top of the restored
// topology. Replay is tolerant: a record whose effect is already present
// (a mutation that raced the covering checkpoint's floor capture) logs
// and moves on rather than failing recovery.
func (d *Daemon) replayMutation(rec *recovered, payload []byte) {
	m, err := dispatcher.DecodeMutation(payload)
	if err != nil {
		log.Printf("warning: recovery: %v", err)
		return
	}

	switch m.Kind {
	case dispatcher.MutCreateSession:
		var mut dispatcher.CreateSessionMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.restoreSession(rec, mut.Topology)
		}

	case dispatcher.MutRenameSession:
		var mut dispatcher.RenameSessionMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				return tx.RenameSession(mut.SessionID, mut.Name)
			}))
		}

	case dispatcher.MutKillSession:
		var mut dispatcher.KillSessionMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				_, err := tx.RemoveSession(mut.SessionID)
				return err
			}))
		}

	case dispatcher.MutCreateWindow:
		var mut dispatcher.CreateWindowMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			w := window.Restore(mut.Window)
			p := d.restorePane(rec, mut.Pane)
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				return tx.InsertWindow(mut.SessionID, w, map[fugueid.ID]*pane.Pane{p.ID(): p})
			}))
		}

	case dispatcher.MutSelectWindow:
		var mut dispatcher.SelectWindowMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				return tx.SelectWindow(mut.SessionID, mut.WindowID)
			}))
		}

	case dispatcher.MutCreatePane:
		var mut dispatcher.CreatePaneMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			p := d.restorePane(rec, mut.Pane)
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				return tx.AddPane(mut.SessionID, mut.WindowID, mut.ParentPane, p, mut.Direction, mut.Ratio)
			}))
		}

	case dispatcher.MutClosePane:
		var mut dispatcher.ClosePaneMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				_, err := tx.RemovePane(mut.PaneID)
				return err
			}))
		}

	case dispatcher.MutResizePane:
		var mut dispatcher.ResizePaneMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			var p *pane.Pane
			d.st.View(func(tx *store.Tx) {
				p, _ = tx.Pane(mut.PaneID)
			})
			if p != nil {
				p.Resize(mut.Rows, mut.Cols)
			}
		}

	case dispatcher.MutFocusPane:
		var mut dispatcher.FocusPaneMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				_, sessionID, err := tx.PaneOwner(mut.PaneID)
				if err != nil {
					return err
				}
				s, err := tx.Session(sessionID)
				if err != nil {
					return err
				}
				w, err := s.Window(mut.WindowID)
				if err != nil {
					return err
				}
				return w.SetFocused(mut.PaneID)
			}))
		}

	case dispatcher.MutSetTags:
		var mut dispatcher.SetTagsMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.replayTagTarget(mut.Target, func(s *fsession.Session, p *pane.Pane) {
				for _, t := range mut.Add {
					if s != nil {
						s.TagsAdd(t)
					} else {
						p.TagsAdd(t)
					}
				}
				for _, t := range mut.Remove {
					if s != nil {
						s.TagsRemove(t)
					} else {
						p.TagsRemove(t)
					}
				}
			})
		}

	case dispatcher.MutSetMetadata:
		var mut dispatcher.SetMetadataMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			d.replayTagTarget(mut.Target, func(s *fsession.Session, p *pane.Pane) {
				if s != nil {
					s.MetadataSet(mut.Key, mut.Value)
				} else {
					p.MetadataSet(mut.Key, mut.Value)
				}
			})
		}

	case dispatcher.MutMirror:
		var mut dispatcher.MirrorMutation
		if json.Unmarshal(m.Data, &mut) == nil {
			p := d.restorePane(rec, mut.Pane)
			d.tolerate(m.Kind, d.st.Transact(func(tx *store.Tx) error {
				if err := tx.AddPane(mut.MirrorSession, mut.WindowID, mut.ParentPane, p, mut.Direction, mut.Ratio); err != nil {
					return err
				}
				tx.AddMirror(mut.SourcePane, p.ID(), mut.MirrorSession)
				return nil
			}))
		}

	default:
		log.Printf("warning: recovery: unknown mutation kind %q", m.Kind)
	}
}

// replayTagTarget resolves a session-or-pane tag target inside a
// transaction and hands exactly one of them to apply.
func (d *Daemon) replayTagTarget(t dispatcher.TagTarget, apply func(*fsession.Session, *pane.Pane)) {
	d.tolerate("tag_target", d.st.Transact(func(tx *store.Tx) error {
		switch t.Kind {
		case "session":
			s, err := tx.Session(t.ID)
			if err != nil {
				return err
			}
			apply(s, nil)
		case "pane":
			p, err := tx.Pane(t.ID)
			if err != nil {
				return err
			}
			apply(nil, p)
		}
		return nil
	}))
}

// replayOutput pushes a replayed output chunk into its pane's restored
// scrollback, bounded by the buffer's own capacity.
func (d *Daemon) replayOutput(payload []byte) {
	rec, err := outputpump.DecodeOutputRecord(payload)
	if err != nil {
		return
	}
	d.st.View(func(tx *store.Tx) {
		if p, err := tx.Pane(rec.PaneID); err == nil && p.Scrollback() != nil {
			p.Scrollback().Push(rec.Bytes)
		}
	})
}

// tolerate downgrades replay errors to warnings: the WAL may legally
// contain records whose effects the covering checkpoint already holds.
func (d *Daemon) tolerate(kind string, err error) {
	if err != nil {
		log.Printf("warning: recovery: replay %s: %v", kind, err)
	}
}
