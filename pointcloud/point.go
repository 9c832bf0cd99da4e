package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// colorSum accumulates colors so they can be averaged channel by channel.
type colorSum struct {
	r, g, b, a uint64
	n          uint64
}

func (cs *colorSum) add(c color.NRGBA) {
	cs.r += uint64(c.R)
	cs.g += uint64(c.G)
	cs.b += uint64(c.B)
	cs.a += uint64(c.A)
	cs.n++
}

func (cs *colorSum) mean() color.NRGBA {
	if cs.n == 0 {
		return color.NRGBA{}
	}
	half := cs.n / 2
	return color.NRGBA{
		R: uint8((cs.r + half) / cs.n),
		G: uint8((cs.g + half) / cs.n),
		B: uint8((cs.b + half) / cs.n),
		A: uint8((cs.a + half) / cs.n),
	}
}
