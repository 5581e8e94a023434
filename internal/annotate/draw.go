package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// Style controls how detections are rendered.
type Style struct {
	Thickness int
	Padding   int
	Face      font.Face
	Palette   []color.RGBA
}

// DefaultStyle mirrors the ultralytics plot() look: coloured boxes with a
// filled label tab carrying "<class> <confidence>".
func DefaultStyle() Style {
	return Style{
		Thickness: 2,
		Padding:   2,
		Face:      basicfont.Face7x13,
		Palette: []color.RGBA{
			{R: 0xff, G: 0x38, B: 0x38, A: 0xff},
			{R: 0xff, G: 0x9d, B: 0x97, A: 0xff},
			{R: 0xff, G: 0x70, B: 0x1f, A: 0xff},
			{R: 0xff, G: 0xb2, B: 0x1d, A: 0xff},
			{R: 0xcf, G: 0xd2, B: 0x31, A: 0xff},
			{R: 0x48, G: 0xf9, B: 0x0a, A: 0xff},
			{R: 0x92, G: 0xcc, B: 0x17, A: 0xff},
			{R: 0x3d, G: 0xdb, B: 0x86, A: 0xff},
			{R: 0x1a, G: 0x93, B: 0x34, A: 0xff},
			{R: 0x00, G: 0xd4, B: 0xbb, A: 0xff},
			{R: 0x2c, G: 0x99, B: 0xa8, A: 0xff},
			{R: 0x00, G: 0xc2, B: 0xff, A: 0xff},
		},
	}
}

// Draw renders every detection onto frame in place. Drawing is clipped to
// the frame bounds.
func (s Style) Draw(frame types.Frame, detections types.DetectionSet) {
	dst := frame.Image()
	for _, det := range detections {
		col := s.colorFor(det.ClassID)
		box := det.BBox.Rect().Intersect(dst.Bounds())
		if box.Empty() {
			continue
		}
		s.drawBox(dst, box, col)
		s.drawLabel(dst, box, Label(det), col)
	}
}

// Label formats the overlay text for a detection.
func Label(det types.Detection) string {
	name := det.ClassName
	if name == "" {
		name = fmt.Sprintf("class%d", det.ClassID)
	}
	return fmt.Sprintf("%s %.2f", name, det.Confidence)
}

func (s Style) colorFor(classID int) color.RGBA {
	if len(s.Palette) == 0 {
		return color.RGBA{G: 0xff, A: 0xff}
	}
	i := classID % len(s.Palette)
	if i < 0 {
		i += len(s.Palette)
	}
	return s.Palette[i]
}

func (s Style) drawBox(dst draw.Image, r image.Rectangle, col color.RGBA) {
	t := s.Thickness
	if t <= 0 {
		t = 1
	}
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

func (s Style) drawLabel(dst draw.Image, box image.Rectangle, text string, col color.RGBA) {
	face := s.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	metrics := face.Metrics()
	textW := font.MeasureString(face, text).Ceil()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	tabW := textW + 2*s.Padding
	tabH := textH + 2*s.Padding

	// Above the box when it fits, otherwise just inside its top edge.
	tab := image.Rect(box.Min.X, box.Min.Y-tabH, box.Min.X+tabW, box.Min.Y)
	if tab.Min.Y < dst.Bounds().Min.Y {
		tab = tab.Add(image.Pt(0, tabH))
	}
	tab = tab.Intersect(dst.Bounds())
	if tab.Empty() {
		return
	}

	draw.Draw(dst, tab, image.NewUniform(col), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor(col)),
		Face: face,
		Dot:  fixed.P(tab.Min.X+s.Padding, tab.Min.Y+s.Padding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

// textColor picks black or white for contrast against the tab colour.
func textColor(bg color.RGBA) color.RGBA {
	luma := 299*int(bg.R) + 587*int(bg.G) + 114*int(bg.B)
	if luma > 150*1000 {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}
