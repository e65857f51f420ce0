// File: internal/vision/detector.go
package vision

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// Detector is the grid-based screen change detector. It is stateless; the
// caller owns the previous frame and passes both frames per comparison.
type Detector struct {
	gridSize   int
	threshold  float64
	maxRegions int
	logger     *zap.Logger
}

// NewDetector builds a detector from the vision configuration.
func NewDetector(cfg config.VisionConfig, logger *zap.Logger) *Detector {
	return &Detector{
		gridSize:   cfg.GridSize,
		threshold:  float64(cfg.Threshold),
		maxRegions: cfg.MaxRegions,
		logger:     logger.Named("change_detector"),
	}
}

// Detect partitions both frames into gridSize x gridSize pixel cells,
// compares a cheap per-cell luminance signature, merges adjacent changed
// cells (4-connectivity) into rectangular regions, and reports the fraction
// of cells that changed. A nil previous frame reports the whole frame as one
// region with fraction 1.0. Deterministic given identical inputs.
func (d *Detector) Detect(previous, current *schemas.Frame) schemas.ChangeReport {
	if current == nil {
		return schemas.ChangeReport{}
	}
	if previous == nil {
		return schemas.ChangeReport{
			Regions: []schemas.Region{
				{X: 0, Y: 0, W: current.Width, H: current.Height, Score: 1.0},
			},
			ChangedFraction: 1.0,
		}
	}
	if previous.Width != current.Width || previous.Height != current.Height {
		// Geometry changed (resolution switch); everything is new.
		d.logger.Warn("Frame geometry mismatch, treating full frame as changed",
			zap.Int("prev_w", previous.Width), zap.Int("prev_h", previous.Height),
			zap.Int("cur_w", current.Width), zap.Int("cur_h", current.Height))
		return schemas.ChangeReport{
			Regions: []schemas.Region{
				{X: 0, Y: 0, W: current.Width, H: current.Height, Score: 1.0},
			},
			ChangedFraction: 1.0,
		}
	}

	cols := (current.Width + d.gridSize - 1) / d.gridSize
	rows := (current.Height + d.gridSize - 1) / d.gridSize
	if cols == 0 || rows == 0 {
		return schemas.ChangeReport{}
	}

	// diff[row*cols+col] holds the absolute signature delta for changed
	// cells and -1 for unchanged ones.
	diff := make([]float64, rows*cols)
	changedCells := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			delta := absf(d.cellSignature(current, col, row) - d.cellSignature(previous, col, row))
			if delta > d.threshold {
				diff[row*cols+col] = delta
				changedCells++
			} else {
				diff[row*cols+col] = -1
			}
		}
	}

	if changedCells == 0 {
		return schemas.ChangeReport{}
	}

	regions := d.mergeRegions(diff, cols, rows, current.Width, current.Height)
	changedFraction := float64(changedCells) / float64(rows*cols)

	if len(regions) > d.maxRegions {
		// Keep the largest regions; the rest stay represented in the
		// fraction only.
		sort.Slice(regions, func(i, j int) bool {
			return regions[i].Area() > regions[j].Area()
		})
		regions = regions[:d.maxRegions]
	}

	d.logger.Debug("Change detection complete",
		zap.Int("changed_cells", changedCells),
		zap.Int("regions", len(regions)),
		zap.Float64("changed_fraction", changedFraction))

	return schemas.ChangeReport{Regions: regions, ChangedFraction: changedFraction}
}

// cellSignature computes the mean luminance of one grid cell. Luminance alone
// is cheap and stable enough for UI change detection; color-only changes of
// identical brightness are rare on real desktops.
func (d *Detector) cellSignature(f *schemas.Frame, col, row int) float64 {
	x0 := col * d.gridSize
	y0 := row * d.gridSize
	x1 := min(x0+d.gridSize, f.Width)
	y1 := min(y0+d.gridSize, f.Height)

	var sum float64
	for y := y0; y < y1; y++ {
		base := (y*f.Width + x0) * 4
		for x := x0; x < x1; x++ {
			r := f.Pix[base]
			g := f.Pix[base+1]
			b := f.Pix[base+2]
			sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			base += 4
		}
	}
	count := (x1 - x0) * (y1 - y0)
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// mergeRegions flood-fills 4-connected changed cells into bounding
// rectangles in pixel space. Region score is the mean cell delta normalized
// to [0, 1].
func (d *Detector) mergeRegions(diff []float64, cols, rows, width, height int) []schemas.Region {
	visited := make([]bool, len(diff))
	var regions []schemas.Region

	for idx := range diff {
		if diff[idx] < 0 || visited[idx] {
			continue
		}

		minCol, minRow := cols, rows
		maxCol, maxRow := -1, -1
		var deltaSum float64
		cells := 0

		queue := []int{idx}
		visited[idx] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			col := cur % cols
			row := cur / cols
			minCol = min(minCol, col)
			maxCol = max(maxCol, col)
			minRow = min(minRow, row)
			maxRow = max(maxRow, row)
			deltaSum += diff[cur]
			cells++

			for _, n := range neighbors(cur, cols, rows) {
				if !visited[n] && diff[n] >= 0 {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		x := minCol * d.gridSize
		y := minRow * d.gridSize
		w := min((maxCol+1)*d.gridSize, width) - x
		h := min((maxRow+1)*d.gridSize, height) - y
		regions = append(regions, schemas.Region{
			X: x, Y: y, W: w, H: h,
			Score: deltaSum / float64(cells) / 255.0,
		})
	}

	return regions
}

// neighbors yields the 4-connected cell indices of cur.
func neighbors(cur, cols, rows int) []int {
	col := cur % cols
	row := cur / cols
	out := make([]int, 0, 4)
	if col > 0 {
		out = append(out, cur-1)
	}
	if col < cols-1 {
		out = append(out, cur+1)
	}
	if row > 0 {
		out = append(out, cur-cols)
	}
	if row < rows-1 {
		out = append(out, cur+cols)
	}
	return out
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
