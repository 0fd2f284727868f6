// Package layout implements the recursive split-tree that arranges a
// window's panes into a rectangular grid. A tree is either a leaf
// (holding one pane id) or a split (a direction, a ratio dividing the
// available space between two children, and exactly two children).
package layout

import (
	"encoding/json"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
)

// Direction names the divider a split introduces. The names are pinned
// to their historical external meaning and must round-trip verbatim
// through responses: Horizontal is a horizontal dividing line, stacking
// children top-to-bottom; Vertical is a vertical dividing line, placing
// children side-by-side.
type Direction int

const (
	Horizontal Direction = iota
	Vertical
)

func (d Direction) String() string {
	if d == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// ParseDirection parses the external wire names ("horizontal",
// "vertical") back into a Direction, rejecting anything else with
// InvalidArgument.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "horizontal":
		return Horizontal, nil
	case "vertical":
		return Vertical, nil
	default:
		return 0, fugueerr.New(fugueerr.InvalidArgument, "unknown split direction %q", s)
	}
}

// MarshalJSON encodes a Direction as its external wire name rather
// than a bare integer, so checkpoints and the wire protocol agree on
// the same "horizontal"/"vertical" spelling responses must carry
// verbatim.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Rect is a pixel/cell rectangle assigned to a leaf pane.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Node is one node of the split tree. A leaf has a non-empty PaneID and
// no children; a split node has Direction/Ratio/Children set and an
// empty PaneID.
type Node struct {
	PaneID    fugueid.ID
	Direction Direction
	Ratio     float64
	Children  [2]*Node
}

// NewLeaf creates a leaf node wrapping a single pane.
func NewLeaf(paneID fugueid.ID) *Node {
	return &Node{PaneID: paneID}
}

func (n *Node) IsLeaf() bool {
	return n.Children[0] == nil && n.Children[1] == nil
}

// Split replaces the leaf containing targetPane with a split node
// holding the existing leaf and a new leaf for newPane, at the given
// direction and ratio (the fraction of space given to the first
// child - the existing pane keeps its position as Children[0]).
// Returns NotFound if targetPane is not present in the tree.
func (n *Node) Split(targetPane fugueid.ID, newPane fugueid.ID, dir Direction, ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fugueerr.New(fugueerr.InvalidArgument, "split ratio must be in (0,1), got %f", ratio)
	}
	target := n.find(targetPane)
	if target == nil {
		return fugueerr.New(fugueerr.NotFound, "pane %s not present in layout", targetPane)
	}
	existing := &Node{PaneID: target.PaneID}
	target.PaneID = ""
	target.Direction = dir
	target.Ratio = ratio
	target.Children[0] = existing
	target.Children[1] = &Node{PaneID: newPane}
	return nil
}

// Remove deletes the leaf holding paneID and collapses its sibling into
// the parent slot, so a split never degenerates to a single-child node.
// Removing the tree's only remaining leaf returns the (nil, true) pair
// signaling the caller (Window) that the whole tree is now empty.
func (n *Node) Remove(paneID fugueid.ID) (*Node, bool, error) {
	if n.IsLeaf() {
		if n.PaneID == paneID {
			return nil, true, nil
		}
		return n, false, fugueerr.New(fugueerr.NotFound, "pane %s not present in layout", paneID)
	}
	for i, child := range n.Children {
		if child == nil {
			continue
		}
		if child.IsLeaf() && child.PaneID == paneID {
			sibling := n.Children[1-i]
			*n = *sibling
			return n, false, nil
		}
		if !child.IsLeaf() {
			if containsPane(child, paneID) {
				newChild, emptied, err := child.Remove(paneID)
				if err != nil {
					return n, false, err
				}
				if emptied {
					sibling := n.Children[1-i]
					*n = *sibling
					return n, false, nil
				}
				n.Children[i] = newChild
				return n, false, nil
			}
		}
	}
	return n, false, fugueerr.New(fugueerr.NotFound, "pane %s not present in layout", paneID)
}

func containsPane(n *Node, paneID fugueid.ID) bool {
	return n.find(paneID) != nil
}

func (n *Node) find(paneID fugueid.ID) *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		if n.PaneID == paneID {
			return n
		}
		return nil
	}
	if found := n.Children[0].find(paneID); found != nil {
		return found
	}
	return n.Children[1].find(paneID)
}

// Contains reports whether paneID appears anywhere in the tree.
func (n *Node) Contains(paneID fugueid.ID) bool {
	return n.find(paneID) != nil
}

// PaneIDs returns every leaf pane id in left-to-right, depth-first order.
func (n *Node) PaneIDs() []fugueid.ID {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return []fugueid.ID{n.PaneID}
	}
	ids := n.Children[0].PaneIDs()
	return append(ids, n.Children[1].PaneIDs()...)
}

// ComputeDimensions recursively partitions rect across the tree,
// returning the rectangle assigned to each leaf pane.
func ComputeDimensions(n *Node, rect Rect) map[fugueid.ID]Rect {
	out := make(map[fugueid.ID]Rect)
	computeInto(n, rect, out)
	return out
}

func computeInto(n *Node, rect Rect, out map[fugueid.ID]Rect) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		out[n.PaneID] = rect
		return
	}
	switch n.Direction {
	case Horizontal:
		topHeight := int(float64(rect.Height) * n.Ratio)
		top := Rect{X: rect.X, Y: rect.Y, Width: rect.Width, Height: topHeight}
		bottom := Rect{X: rect.X, Y: rect.Y + topHeight, Width: rect.Width, Height: rect.Height - topHeight}
		computeInto(n.Children[0], top, out)
		computeInto(n.Children[1], bottom, out)
	case Vertical:
		leftWidth := int(float64(rect.Width) * n.Ratio)
		left := Rect{X: rect.X, Y: rect.Y, Width: leftWidth, Height: rect.Height}
		right := Rect{X: rect.X + leftWidth, Y: rect.Y, Width: rect.Width - leftWidth, Height: rect.Height}
		computeInto(n.Children[0], left, out)
		computeInto(n.Children[1], right, out)
	}
}
