package cinema

import "math"

// affine is a 2D affine matrix [a, b, c, d, tx, ty]:
//
//	| a  c  tx |
//	| b  d  ty |
type affine [6]float64

var identityAffine = affine{1, 0, 0, 1, 0, 0}

// localAffine is the node's own matrix: the pivot is moved to the origin,
// then the node is scaled, rotated and placed at (X, Y).
func localAffine(n *Node) affine {
	sin, cos := math.Sincos(n.Rotation)
	a, b := cos*n.ScaleX, sin*n.ScaleX
	c, d := -sin*n.ScaleY, cos*n.ScaleY
	return affine{
		a, b, c, d,
		n.X - a*n.PivotX - c*n.PivotY,
		n.Y - b*n.PivotX - d*n.PivotY,
	}
}

// then returns m followed by outer: outer * m.
func (m affine) then(outer affine) affine {
	return affine{
		outer[0]*m[0] + outer[2]*m[1],
		outer[1]*m[0] + outer[3]*m[1],
		outer[0]*m[2] + outer[2]*m[3],
		outer[1]*m[2] + outer[3]*m[3],
		outer[0]*m[4] + outer[2]*m[5] + outer[4],
		outer[1]*m[4] + outer[3]*m[5] + outer[5],
	}
}

// inverse returns the inverse of m, or the identity when m is singular.
func (m affine) inverse() affine {
	det := m[0]*m[3] - m[2]*m[1]
	if math.Abs(det) < 1e-12 {
		return identityAffine
	}
	a, b := m[3]/det, -m[1]/det
	c, d := -m[2]/det, m[0]/det
	return affine{a, b, c, d, -(a*m[4] + c*m[5]), -(b*m[4] + d*m[5])}
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// refreshWorld recomputes world matrices and alphas under n. Clean subtrees
// under a clean parent keep their cached matrix; alpha is always
// recomputed since SetAlpha does not dirty the node.
func refreshWorld(n *Node, parent affine, parentAlpha float64, force bool) {
	force = force || n.transformDirty
	if force {
		n.world = localAffine(n).then(parent)
		n.transformDirty = false
	}
	n.worldAlpha = parentAlpha * n.Alpha
	for _, child := range n.children {
		refreshWorld(child, n.world, n.worldAlpha, force)
	}
}

// WorldPosition returns where the node's pivot sits on the stage, as of the
// last stage update.
func (n *Node) WorldPosition() (x, y float64) {
	return n.world.apply(n.PivotX, n.PivotY)
}

func (n *Node) SetPosition(x, y float64) {
	n.X, n.Y = x, y
	n.transformDirty = true
}

func (n *Node) SetScale(sx, sy float64) {
	n.ScaleX, n.ScaleY = sx, sy
	n.transformDirty = true
}

// SetRotation sets the rotation in radians.
func (n *Node) SetRotation(r float64) {
	n.Rotation = r
	n.transformDirty = true
}

func (n *Node) SetAlpha(a float64) { n.Alpha = a }

// MarkDirty forces the transform to be recomputed on the next update, after
// fields were assigned directly.
func (n *Node) MarkDirty() { n.transformDirty = true }
