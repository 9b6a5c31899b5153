package detector

import (
	"math"
	"slices"

	"github.com/MeKo-Tech/codescan/internal/mempool"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// IoU returns intersection over union of two boxes, or 0 when the union is
// empty.
func IoU(a, b utils.Box) float64 {
	ix := math.Min(a.MaxX(), b.MaxX()) - math.Max(a.X, b.X)
	iy := math.Min(a.MaxY(), b.MaxY()) - math.Max(a.Y, b.Y)
	inter := 0.0
	if ix > 0 && iy > 0 {
		inter = ix * iy
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMSIndices returns the indices of dets kept by greedy suppression, in
// descending score order. Candidates below scoreFloor are ignored. Equal
// scores keep their input order. A candidate is dropped when its IoU with an
// already kept box is strictly greater than iouThreshold.
func NMSIndices(dets []Detection, scoreFloor, iouThreshold float64) []int {
	order := make([]int, 0, len(dets))
	for i, d := range dets {
		if d.Score >= scoreFloor {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case dets[a].Score > dets[b].Score:
			return -1
		case dets[a].Score < dets[b].Score:
			return 1
		default:
			return 0
		}
	})

	suppressed := mempool.GetBool(len(order))
	defer mempool.PutBool(suppressed)

	kept := make([]int, 0, len(order))
	for i, a := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, a)
		for j := i + 1; j < len(order); j++ {
			if !suppressed[j] && IoU(dets[a].Box, dets[order[j]].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// NonMaxSuppression returns the detections kept by NMSIndices.
func NonMaxSuppression(dets []Detection, scoreFloor, iouThreshold float64) []Detection {
	idx := NMSIndices(dets, scoreFloor, iouThreshold)
	out := make([]Detection, len(idx))
	for i, k := range idx {
		out[i] = dets[k]
	}
	return out
}

// Suppressor applies class-agnostic greedy NMS with a fixed IoU threshold.
type Suppressor struct {
	IoUThreshold float64
}

// NewSuppressor returns a Suppressor using the given threshold.
func NewSuppressor(iouThreshold float64) Suppressor {
	return Suppressor{IoUThreshold: iouThreshold}
}

// Apply runs NonMaxSuppression with s.IoUThreshold.
func (s Suppressor) Apply(dets []Detection, scoreFloor float64) []Detection {
	return NonMaxSuppression(dets, scoreFloor, s.IoUThreshold)
}
