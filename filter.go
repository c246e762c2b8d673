package cinema

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

const colorMatrixShaderSrc = `//kage:unit pixels
package main

var Matrix [20]float

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	c := imageSrc0At(src)
	if c.a > 0 {
		c.rgb /= c.a
	}
	r := Matrix[0]*c.r + Matrix[1]*c.g + Matrix[2]*c.b + Matrix[3]*c.a + Matrix[4]
	g := Matrix[5]*c.r + Matrix[6]*c.g + Matrix[7]*c.b + Matrix[8]*c.a + Matrix[9]
	b := Matrix[10]*c.r + Matrix[11]*c.g + Matrix[12]*c.b + Matrix[13]*c.a + Matrix[14]
	a := Matrix[15]*c.r + Matrix[16]*c.g + Matrix[17]*c.b + Matrix[18]*c.a + Matrix[19]
	r = clamp(r, 0, 1)
	g = clamp(g, 0, 1)
	b = clamp(b, 0, 1)
	a = clamp(a, 0, 1)
	return vec4(r*a, g*a, b*a, a)
}
`

var (
	colorMatrixOnce   sync.Once
	colorMatrixShader *ebiten.Shader
)

func ensureColorMatrixShader() *ebiten.Shader {
	colorMatrixOnce.Do(func() {
		s, err := ebiten.NewShader([]byte(colorMatrixShaderSrc))
		if err != nil {
			panic("cinema: failed to compile color matrix shader: " + err.Error())
		}
		colorMatrixShader = s
	})
	return colorMatrixShader
}

// Grade is a full-screen 4x5 color matrix applied after the stage is drawn.
// The matrix is row-major: [R_r, R_g, R_b, R_a, R_offset, G_r, ...].
type Grade struct {
	Matrix [20]float64

	uniforms  map[string]any
	matrixF32 [20]float32
	shaderOp  ebiten.DrawRectShaderOptions
}

// NewGrade returns the identity grade.
func NewGrade() *Grade {
	g := &Grade{uniforms: make(map[string]any, 1)}
	g.uniforms["Matrix"] = g.matrixF32[:]
	g.Matrix[0] = 1
	g.Matrix[6] = 1
	g.Matrix[12] = 1
	g.Matrix[18] = 1
	return g
}

// Saturate scales saturation by s. 1 leaves colors alone, 0 is grayscale.
func (g *Grade) Saturate(s float64) *Grade {
	sr := (1 - s) * 0.299
	sg := (1 - s) * 0.587
	sb := (1 - s) * 0.114
	return g.mul([20]float64{
		sr + s, sg, sb, 0, 0,
		sr, sg + s, sb, 0, 0,
		sr, sg, sb + s, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Contrast scales contrast around mid-gray by c.
func (g *Grade) Contrast(c float64) *Grade {
	t := (1.0 - c) / 2.0
	return g.mul([20]float64{
		c, 0, 0, 0, t,
		0, c, 0, 0, t,
		0, 0, c, 0, t,
		0, 0, 0, 1, 0,
	})
}

// Tint multiplies each channel by the matching component of c.
func (g *Grade) Tint(c Color) *Grade {
	return g.mul([20]float64{
		c.R, 0, 0, 0, 0,
		0, c.G, 0, 0, 0,
		0, 0, c.B, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// mul applies m after the current matrix.
func (g *Grade) mul(m [20]float64) *Grade {
	var out [20]float64
	for row := 0; row < 4; row++ {
		for col := 0; col < 5; col++ {
			var v float64
			for k := 0; k < 4; k++ {
				v += m[row*5+k] * g.Matrix[k*5+col]
			}
			if col == 4 {
				v += m[row*5+4]
			}
			out[row*5+col] = v
		}
	}
	g.Matrix = out
	return g
}

// Apply draws src into dst through the matrix.
func (g *Grade) Apply(src, dst *ebiten.Image) {
	for i, v := range g.Matrix {
		g.matrixF32[i] = float32(v)
	}
	b := src.Bounds()
	g.shaderOp.Images[0] = src
	g.shaderOp.Uniforms = g.uniforms
	dst.DrawRectShader(b.Dx(), b.Dy(), ensureColorMatrixShader(), &g.shaderOp)
}

// MoodGrade returns the screen grade for a scene mood, or nil when the mood
// draws ungraded.
func MoodGrade(mood string) *Grade {
	switch mood {
	case MoodNoir:
		return NewGrade().Saturate(0).Contrast(1.25)
	case MoodBlood:
		return NewGrade().Saturate(0.4).Tint(Color{R: 1, G: 0.35, B: 0.35, A: 1})
	}
	return nil
}
