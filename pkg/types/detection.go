package types

import "image"

// BoundingBox is a rectangle in frame pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// BoxFromRect converts an image.Rectangle to a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Detection is a single model output for one frame.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionSet is the ordered output of one inference call.
type DetectionSet []Detection

// AboveThreshold returns the detections whose confidence is at least
// threshold, preserving order. The receiver is not modified.
func (s DetectionSet) AboveThreshold(threshold float64) DetectionSet {
	out := make(DetectionSet, 0, len(s))
	for _, d := range s {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
