package cinema

import (
	"slices"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
)

// Nodes are built on transition goroutines as well as the render loop.
var lastNodeID atomic.Uint32

func nextNodeID() uint32 { return lastNodeID.Add(1) }

// Node is the scene graph element every drawable of the stage is made of:
// tactical layers, the cinematic background, and token meshes. A single flat
// struct is used for containers and sprites alike.
type Node struct {
	// Identity
	ID   uint32
	Name string

	// Hierarchy
	Parent   *Node
	children []*Node

	// Transform (local). PivotX/PivotY are in local pixels and name the
	// point that sits at (X, Y).
	X, Y     float64
	ScaleX   float64
	ScaleY   float64
	Rotation float64
	PivotX   float64
	PivotY   float64

	// Visibility
	Alpha   float64
	Visible bool

	// Image is drawn when non-nil. A nil Image with a non-zero Color draws a
	// solid rectangle of ScaleX by ScaleY pixels.
	Image *ebiten.Image
	Color Color

	// Metadata
	UserData any

	solid          bool
	world          affine
	worldAlpha     float64
	transformDirty bool
	disposed       bool
}

func nodeDefaults(n *Node) {
	n.ID = nextNodeID()
	n.ScaleX = 1
	n.ScaleY = 1
	n.Alpha = 1
	n.Color = ColorWhite
	n.Visible = true
	n.transformDirty = true
}

// NewContainer creates a group node with no visual output.
func NewContainer(name string) *Node {
	n := &Node{Name: name}
	nodeDefaults(n)
	return n
}

// NewSprite creates a node that draws img. img may be nil and set later.
func NewSprite(name string, img *ebiten.Image) *Node {
	n := &Node{Name: name, Image: img}
	nodeDefaults(n)
	return n
}

// NewRect creates a solid-color rectangle of w by h pixels.
func NewRect(name string, w, h float64, c Color) *Node {
	n := &Node{Name: name}
	nodeDefaults(n)
	n.ScaleX = w
	n.ScaleY = h
	n.Color = c
	n.solid = true
	return n
}

// ImageSize returns the pixel size of the node's image, or zero when the node
// has none (texture not loaded yet).
func (n *Node) ImageSize() (w, h float64) {
	if n.Image == nil {
		return 0, 0
	}
	b := n.Image.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// SetImage swaps the node's image and re-centers the pivot when center is true.
func (n *Node) SetImage(img *ebiten.Image, center bool) {
	n.Image = img
	if center {
		w, h := n.ImageSize()
		n.PivotX, n.PivotY = w/2, h/2
	}
	n.transformDirty = true
}

// AddChild appends child, so it draws above its siblings. A child that has
// a parent is moved. Adding nil or an ancestor panics.
func (n *Node) AddChild(child *Node) {
	n.AddChildAt(child, len(n.children))
}

// AddChildAt inserts child at index. Index 0 draws behind every sibling.
func (n *Node) AddChildAt(child *Node, index int) {
	if child == nil {
		panic("cinema: cannot add nil child")
	}
	if child.disposed || n.disposed {
		panic("cinema: AddChild on disposed node")
	}
	if isAncestor(child, n) {
		panic("cinema: adding child would create a cycle")
	}
	if child.Parent != nil {
		child.Parent.removeChildByPtr(child)
	}
	if index < 0 || index > len(n.children) {
		panic("cinema: child index out of range")
	}
	child.Parent = n
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	markSubtreeDirty(child)
}

// RemoveChild detaches child. It panics when n is not child's parent.
func (n *Node) RemoveChild(child *Node) {
	if child.Parent != n {
		panic("cinema: child's parent is not this node")
	}
	n.removeChildByPtr(child)
	child.Parent = nil
	markSubtreeDirty(child)
}

// RemoveFromParent detaches n. Orphans are left alone.
func (n *Node) RemoveFromParent() {
	if n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
}

// Children returns the child list in draw order. Callers must not modify it.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) NumChildren() int { return len(n.children) }

func (n *Node) ChildAt(index int) *Node { return n.children[index] }

// IndexOf returns the position of child among n's children, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Dispose detaches n and disposes its subtree. Images stay allocated: the
// texture loader owns them.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	n.RemoveFromParent()
	n.dispose()
}

func (n *Node) dispose() {
	n.disposed = true
	n.ID = 0
	for _, child := range n.children {
		child.Parent = nil
		child.dispose()
	}
	n.children = nil
	n.Parent = nil
	n.Image = nil
	n.UserData = nil
}

func (n *Node) IsDisposed() bool { return n.disposed }

// attachedTo reports whether n is alive and a direct child of parent.
func (n *Node) attachedTo(parent *Node) bool {
	return n != nil && !n.disposed && n.Parent == parent
}

func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// removeChildByPtr drops child from n.children and leaves child.Parent set.
func (n *Node) removeChildByPtr(child *Node) {
	if i := n.IndexOf(child); i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
}

func markSubtreeDirty(node *Node) {
	node.transformDirty = true
	for _, child := range node.children {
		markSubtreeDirty(child)
	}
}
