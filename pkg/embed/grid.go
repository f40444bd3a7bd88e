package embed

import (
	"context"
	"image"
	"math"
)

const (
	// gridCells is the number of cells per image axis.
	gridCells = 16

	// gridFeatures is the number of features per cell:
	// mean R, mean G, mean B, mean luma, luma spread.
	gridFeatures = 5

	// GridDimension is the output dimension of the Grid embedder.
	GridDimension = gridCells * gridCells * gridFeatures
)

// Grid is a local, deterministic image embedder. It maps every pixel onto
// a fixed 16x16 cell grid and summarizes each cell with per-channel color
// means plus luma mean and spread, then L2-normalizes the whole vector.
//
// The vectors capture coarse color layout: the same image always embeds to
// the same point, and near-duplicates land close under cosine distance.
// It is not a learned model; use [Remote] when semantic similarity across
// differently-composed photos is required.
type Grid struct{}

var _ Embedder = (*Grid)(nil)

// NewGrid creates a Grid embedder.
func NewGrid() *Grid {
	return &Grid{}
}

// Dimension returns GridDimension (1280).
func (g *Grid) Dimension() int {
	return GridDimension
}

// Model identifies the embedding function, for cache keying.
func (g *Grid) Model() string {
	return "grid"
}

// Embed decodes the image and computes its grid feature vector.
func (g *Grid) Embed(_ context.Context, data []byte) ([]float32, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return gridFeaturesOf(img), nil
}

// cellStats accumulates pixel statistics for one grid cell.
type cellStats struct {
	r, g, b float64
	luma    float64
	luma2   float64 // sum of squared luma, for spread
	n       float64
}

// gridFeaturesOf computes the normalized feature vector for a decoded image.
func gridFeaturesOf(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var cells [gridCells * gridCells]cellStats
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		cy := (y - bounds.Min.Y) * gridCells / h
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cx := (x - bounds.Min.X) * gridCells / w

			// RGBA returns 16-bit channels; scale to [0,1].
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r := float64(r16) / 0xffff
			g := float64(g16) / 0xffff
			b := float64(b16) / 0xffff
			// ITU-R BT.601 luma weights.
			l := 0.299*r + 0.587*g + 0.114*b

			c := &cells[cy*gridCells+cx]
			c.r += r
			c.g += g
			c.b += b
			c.luma += l
			c.luma2 += l * l
			c.n++
		}
	}

	vec := make([]float32, GridDimension)
	for i := range cells {
		c := &cells[i]
		if c.n == 0 {
			continue // degenerate cell on tiny images; leave zeros
		}
		meanR := c.r / c.n
		meanG := c.g / c.n
		meanB := c.b / c.n
		meanL := c.luma / c.n
		variance := c.luma2/c.n - meanL*meanL
		if variance < 0 {
			variance = 0 // floating point noise
		}

		base := i * gridFeatures
		vec[base+0] = float32(meanR)
		vec[base+1] = float32(meanG)
		vec[base+2] = float32(meanB)
		vec[base+3] = float32(meanL)
		vec[base+4] = float32(math.Sqrt(variance))
	}

	normalize(vec)
	return vec
}

// normalize scales vec to unit L2 norm in place. Zero vectors are left as-is.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
