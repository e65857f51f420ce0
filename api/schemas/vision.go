package schemas

import "fmt"

// Frame is an immutable 2D pixel buffer in RGBA layout, 4 bytes per pixel,
// row-major. Owned transiently by the change detector for one comparison.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a zeroed frame of the given geometry.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*4),
	}
}

// Region is a changed rectangle in pixel space with a change-intensity score
// in [0, 1]. No identity beyond one detection pass.
type Region struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
	Score float64 `json:"score"`
}

// Area returns the rectangle's pixel area.
func (r Region) Area() int {
	return r.W * r.H
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d) score=%.2f", r.W, r.H, r.X, r.Y, r.Score)
}

// ChangeReport is the result of one frame comparison. ChangedFraction is the
// fraction of grid cells that changed, in [0, 1].
type ChangeReport struct {
	Regions         []Region `json:"regions"`
	ChangedFraction float64  `json:"changed_fraction"`
}
