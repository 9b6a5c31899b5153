package detector

import (
	"testing"

	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDetection generates a random box of 1..60 px anywhere in a 200 px square.
func genDetection() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 200),
		gen.Float64Range(0, 200),
		gen.Float64Range(1, 60),
		gen.Float64Range(1, 60),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 1),
	).Map(func(vals []interface{}) Detection {
		x, _ := vals[0].(float64)
		y, _ := vals[1].(float64)
		w, _ := vals[2].(float64)
		h, _ := vals[3].(float64)
		score, _ := vals[4].(float64)
		cls, _ := vals[5].(int)
		return Detection{Box: utils.Box{X: x, Y: y, W: w, H: h}, Score: score, ClassID: cls}
	})
}

func genDetections() gopter.Gen {
	return gen.SliceOfN(25, genDetection())
}

func TestIoU_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("IoU is symmetric and within [0,1]", prop.ForAll(
		func(a, b Detection) bool {
			ab, ba := IoU(a.Box, b.Box), IoU(b.Box, a.Box)
			return ab == ba && ab >= 0 && ab <= 1
		},
		genDetection(), genDetection(),
	))

	properties.Property("IoU of a box with itself is 1", prop.ForAll(
		func(a Detection) bool {
			v := IoU(a.Box, a.Box)
			return v > 1-1e-9 && v < 1+1e-9
		},
		genDetection(),
	))

	properties.Property("IoU of horizontally disjoint boxes is 0", prop.ForAll(
		func(a Detection, gap float64) bool {
			b := a
			b.Box.X = a.Box.MaxX() + gap
			return IoU(a.Box, b.Box) == 0
		},
		genDetection(), gen.Float64Range(0, 50),
	))

	properties.TestingRun(t)
}

func TestNonMaxSuppression_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("output is a subset of the input", prop.ForAll(
		func(dets []Detection, thr float64) bool {
			seen := make(map[int]bool)
			for _, i := range NMSIndices(dets, 0, thr) {
				if i < 0 || i >= len(dets) || seen[i] {
					return false
				}
				seen[i] = true
			}
			return true
		},
		genDetections(), gen.Float64Range(0, 1),
	))

	properties.Property("no two kept boxes overlap above the threshold", prop.ForAll(
		func(dets []Detection, thr float64) bool {
			kept := NonMaxSuppression(dets, 0, thr)
			for i := range kept {
				for j := i + 1; j < len(kept); j++ {
					if IoU(kept[i].Box, kept[j].Box) > thr {
						return false
					}
				}
			}
			return true
		},
		genDetections(), gen.Float64Range(0, 1),
	))

	properties.Property("threshold 1 keeps every score survivor", prop.ForAll(
		func(dets []Detection, floor float64) bool {
			want := 0
			for _, d := range dets {
				if d.Score >= floor {
					want++
				}
			}
			return len(NonMaxSuppression(dets, floor, 1.0)) == want
		},
		genDetections(), gen.Float64Range(0, 1),
	))

	properties.Property("output is sorted by score descending", prop.ForAll(
		func(dets []Detection, thr float64) bool {
			kept := NonMaxSuppression(dets, 0, thr)
			for i := 1; i < len(kept); i++ {
				if kept[i].Score > kept[i-1].Score {
					return false
				}
			}
			return true
		},
		genDetections(), gen.Float64Range(0, 1),
	))

	properties.Property("a single candidate survives unchanged", prop.ForAll(
		func(d Detection, thr float64) bool {
			kept := NonMaxSuppression([]Detection{d}, 0, thr)
			return len(kept) == 1 && kept[0] == d
		},
		genDetection(), gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
