// Package window implements the Window: an ordered list of panes plus
// the layout tree arranging them, and the single focused pane within
// that window.
package window

import (
	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/layout"
)

const defaultSplitRatio = 0.5

// Window owns one layout tree and the ordered pane list it must always
// agree with exactly.
type Window struct {
	id      fugueid.ID
	title   string
	panes   []fugueid.ID
	tree    *layout.Node
	focused fugueid.ID
}

// New creates a window around a single initial pane, which becomes both
// the sole leaf of the layout tree and the focused pane.
func New(id fugueid.ID, title string, initialPane fugueid.ID) *Window {
	return &Window{
		id:      id,
		title:   title,
		panes:   []fugueid.ID{initialPane},
		tree:    layout.NewLeaf(initialPane),
		focused: initialPane,
	}
}

func (w *Window) ID() fugueid.ID    { return w.id }
func (w *Window) Title() string     { return w.title }
func (w *Window) SetTitle(t string) { w.title = t }

// AddPane splits the leaf of parentPane along direction at the default
// ratio, inserting newPane as its sibling and right after parentPane in
// the pane list. newPane becomes focused, matching the convention that
// a freshly created pane receives input focus.
func (w *Window) AddPane(parentPane, newPane fugueid.ID, dir layout.Direction) error {
	return w.AddPaneRatio(parentPane, newPane, dir, defaultSplitRatio)
}

// AddPaneRatio is AddPane with an explicit split ratio.
func (w *Window) AddPaneRatio(parentPane, newPane fugueid.ID, dir layout.Direction, ratio float64) error {
	if err := w.tree.Split(parentPane, newPane, dir, ratio); err != nil {
		return err
	}
	idx := indexOf(w.panes, parentPane)
	if idx < 0 {
		// Tree and list disagreed before this mutation; reject rather
		// than silently diverging further.
		return fugueerr.New(fugueerr.Internal, "layout tree and pane list disagree on pane %s", parentPane)
	}
	w.panes = append(w.panes[:idx+1], append([]fugueid.ID{newPane}, w.panes[idx+1:]...)...)
	w.focused = newPane
	return nil
}

// RemovePane removes pane from both the tree and the ordered list,
// collapsing its sibling into the parent slot. Reports emptied=true if
// this was the window's last pane (the caller, typically the owning
// Session, is then responsible for removing the whole window). If the
// removed pane was focused, focus moves to the pane preceding it in
// list order, or whatever remains if it was first.
func (w *Window) RemovePane(paneID fugueid.ID) (emptied bool, err error) {
	idx := indexOf(w.panes, paneID)
	if idx < 0 {
		return false, fugueerr.New(fugueerr.NotFound, "pane %s not present in window %s", paneID, w.id)
	}
	newTree, treeEmptied, err := w.tree.Remove(paneID)
	if err != nil {
		return false, err
	}
	w.panes = append(w.panes[:idx], w.panes[idx+1:]...)

	if treeEmptied || len(w.panes) == 0 {
		w.tree = nil
		w.focused = ""
		return true, nil
	}
	w.tree = newTree
	if w.focused == paneID {
		next := idx - 1
		if next < 0 {
			next = 0
		}
		w.focused = w.panes[next]
	}
	return false, nil
}

// SetFocused moves input focus to paneID, which must already be a
// member of this window.
func (w *Window) SetFocused(paneID fugueid.ID) error {
	if indexOf(w.panes, paneID) < 0 {
		return fugueerr.New(fugueerr.NotFound, "pane %s not present in window %s", paneID, w.id)
	}
	w.focused = paneID
	return nil
}

func (w *Window) Focused() fugueid.ID { return w.focused }

// ListPanes returns panes in stable creation/split order.
func (w *Window) ListPanes() []fugueid.ID {
	out := make([]fugueid.ID, len(w.panes))
	copy(out, w.panes)
	return out
}

// ComputeDimensions partitions area across the layout tree.
func (w *Window) ComputeDimensions(area layout.Rect) map[fugueid.ID]layout.Rect {
	if w.tree == nil {
		return map[fugueid.ID]layout.Rect{}
	}
	return layout.ComputeDimensions(w.tree, area)
}

// CheckInvariant reports whether the pane list and layout tree agree
// exactly. Exposed for tests.
func (w *Window) CheckInvariant() error {
	if w.tree == nil {
		if len(w.panes) != 0 {
			return fugueerr.New(fugueerr.Internal, "window %s has panes but no layout tree", w.id)
		}
		return nil
	}
	treeIDs := w.tree.PaneIDs()
	if len(treeIDs) != len(w.panes) {
		return fugueerr.New(fugueerr.Internal, "window %s: tree has %d leaves, list has %d panes", w.id, len(treeIDs), len(w.panes))
	}
	listSet := make(map[fugueid.ID]struct{}, len(w.panes))
	for _, id := range w.panes {
		listSet[id] = struct{}{}
	}
	for _, id := range treeIDs {
		if _, ok := listSet[id]; !ok {
			return fugueerr.New(fugueerr.Internal, "window %s: tree leaf %s absent from pane list", w.id, id)
		}
	}
	return nil
}

// Snapshot is the checkpoint-serializable view of a Window.
type Snapshot struct {
	ID      fugueid.ID   `json:"id"`
	Title   string       `json:"title"`
	Panes   []fugueid.ID `json:"panes"`
	Focused fugueid.ID   `json:"focused"`
	Tree    *layout.Node `json:"tree"`
}

// Snapshot captures w's checkpoint-serializable state.
func (w *Window) Snapshot() Snapshot {
	return Snapshot{
		ID:      w.id,
		Title:   w.title,
		Panes:   w.ListPanes(),
		Focused: w.focused,
		Tree:    w.tree,
	}
}

// Restore rebuilds a Window directly from a checkpoint snapshot,
// bypassing New's single-initial-pane constructor.
func Restore(s Snapshot) *Window {
	panes := make([]fugueid.ID, len(s.Panes))
	copy(panes, s.Panes)
	return &Window{
		id:      s.ID,
		title:   s.Title,
		panes:   panes,
		tree:    s.Tree,
		focused: s.Focused,
	}
}

func indexOf(ids []fugueid.ID, target fugueid.ID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}
