package detector

import "image"

// outputLayout describes a YOLOv8 head: attrs = 4 box values + class scores,
// one column per anchor. Some exports transpose the two axes.
type outputLayout struct {
	attrs      int
	anchors    int
	transposed bool
}

// newOutputLayout infers the layout from the two non-batch dimensions. The
// attribute axis is always the shorter one.
func newOutputLayout(d1, d2 int) outputLayout {
	if d1 <= d2 {
		return outputLayout{attrs: d1, anchors: d2}
	}
	return outputLayout{attrs: d2, anchors: d1, transposed: true}
}

func (l outputLayout) at(data []float32, attr, anchor int) float32 {
	if l.transposed {
		return data[anchor*l.attrs+attr]
	}
	return data[attr*l.anchors+anchor]
}

type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// decodeYOLO turns raw network output into candidate boxes scaled to frame
// pixels. Only the best class per anchor is considered.
func decodeYOLO(data []float32, layout outputLayout, xScale, yScale, threshold float32) []candidate {
	if layout.attrs <= 4 || len(data) < layout.attrs*layout.anchors {
		return nil
	}

	var out []candidate
	for i := 0; i < layout.anchors; i++ {
		bestClass := -1
		var bestScore float32
		for c := 4; c < layout.attrs; c++ {
			if s := layout.at(data, c, i); s > bestScore {
				bestScore = s
				bestClass = c - 4
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}

		cx := layout.at(data, 0, i)
		cy := layout.at(data, 1, i)
		w := layout.at(data, 2, i)
		h := layout.at(data, 3, i)

		x1 := int((cx - w/2) * xScale)
		y1 := int((cy - h/2) * yScale)
		x2 := int((cx + w/2) * xScale)
		y2 := int((cy + h/2) * yScale)

		out = append(out, candidate{
			box:     image.Rect(x1, y1, x2, y2),
			score:   bestScore,
			classID: bestClass,
		})
	}
	return out
}
