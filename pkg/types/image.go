package types

import (
	"image"
	"image/color"
)

// BGR is a draw.Image view over a BGR24 pixel buffer. Writes go straight to
// the underlying frame data.
type BGR struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// Image returns a drawable view sharing the frame's buffer.
func (f Frame) Image() *BGR {
	return &BGR{
		Pix:    f.Data,
		Stride: f.Stride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

func (b *BGR) ColorModel() color.Model { return color.RGBAModel }

func (b *BGR) Bounds() image.Rectangle { return b.Rect }

func (b *BGR) PixOffset(x, y int) int {
	return (y-b.Rect.Min.Y)*b.Stride + (x-b.Rect.Min.X)*BytesPerPixelBGR24
}

func (b *BGR) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(b.Rect)) {
		return color.RGBA{}
	}
	i := b.PixOffset(x, y)
	return color.RGBA{R: b.Pix[i+2], G: b.Pix[i+1], B: b.Pix[i], A: 0xff}
}

func (b *BGR) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(b.Rect)) {
		return
	}
	i := b.PixOffset(x, y)
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	if rgba.A == 0xff {
		b.Pix[i], b.Pix[i+1], b.Pix[i+2] = rgba.B, rgba.G, rgba.R
		return
	}
	// Premultiplied alpha blend onto the existing pixel.
	a := uint32(0xff - rgba.A)
	b.Pix[i] = uint8((uint32(b.Pix[i])*a)/0xff + uint32(rgba.B))
	b.Pix[i+1] = uint8((uint32(b.Pix[i+1])*a)/0xff + uint32(rgba.G))
	b.Pix[i+2] = uint8((uint32(b.Pix[i+2])*a)/0xff + uint32(rgba.R))
}

// FrameFromImage converts any image into a BGR24 frame.
func FrameFromImage(img image.Image) Frame {
	bounds := img.Bounds()
	f := NewFrame(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Data[i], f.Data[i+1], f.Data[i+2] = c.B, c.G, c.R
			i += BytesPerPixelBGR24
		}
	}
	return f
}
