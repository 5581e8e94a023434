package types

import (
	"errors"
	"fmt"
	"time"
)

// PixelFormat names the byte layout of a raw frame buffer.
type PixelFormat string

const (
	// FormatBGR24 is blue-green-red, 8 bits per channel, no alpha, row-major.
	FormatBGR24 PixelFormat = "bgr24"

	// BytesPerPixelBGR24 is the pixel size of FormatBGR24.
	BytesPerPixelBGR24 = 3
)

// ErrMalformedFrame is returned by Validate for frames whose buffer does not
// match their declared geometry or format.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one raster image from a live video sequence.
type Frame struct {
	Data      []byte      // Raw pixel data, row-major, no padding
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Channel order (only FormatBGR24 is accepted)
	Timestamp time.Time   // Capture timestamp, transport metadata only
	FrameNum  uint64      // Position in the sequence, transport metadata only
}

// NewFrame allocates a zeroed BGR24 frame of the given size.
func NewFrame(width, height int) Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Frame{
		Data:   make([]byte, width*height*BytesPerPixelBGR24),
		Width:  width,
		Height: height,
		Format: FormatBGR24,
	}
}

// Stride returns the number of bytes per row.
func (f Frame) Stride() int {
	return f.Width * BytesPerPixelBGR24
}

// Validate checks that the buffer length matches width, height and format.
func (f Frame) Validate() error {
	if f.Format != FormatBGR24 {
		return fmt.Errorf("%w: unsupported format %q", ErrMalformedFrame, f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixelBGR24; len(f.Data) != want {
		return fmt.Errorf("%w: buffer has %d bytes, want %d for %dx%d",
			ErrMalformedFrame, len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// Clone returns a copy of the frame with its own pixel buffer.
func (f Frame) Clone() Frame {
	out := f
	out.Data = append([]byte(nil), f.Data...)
	return out
}

// SameGeometry reports whether two frames share width, height and format.
func (f Frame) SameGeometry(other Frame) bool {
	return f.Width == other.Width && f.Height == other.Height && f.Format == other.Format
}
