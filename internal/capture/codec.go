package capture

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// ErrEmptyImage is returned when a buffer decodes to nothing.
var ErrEmptyImage = errors.New("image decoded to an empty frame")

// DefaultJPEGQuality is used when a quality outside [1,100] is requested.
const DefaultJPEGQuality = 80

// EncodeJPEG compresses a BGR24 frame.
func EncodeJPEG(frame types.Frame, quality int) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	mat, err := FrameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory that Close releases.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// DecodeJPEG decompresses a JPEG (or any format OpenCV reads) into a BGR24 frame.
func DecodeJPEG(data []byte) (types.Frame, error) {
	if len(data) == 0 {
		return types.Frame{}, ErrEmptyImage
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()
	return MatToFrame(mat)
}

// FrameToMat wraps a copy of the frame buffer in a CV_8UC3 Mat. The caller
// closes the Mat.
func FrameToMat(frame types.Frame) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap frame: %w", err)
	}
	return mat, nil
}

// MatToFrame copies an 8-bit three-channel Mat into a frame.
func MatToFrame(mat gocv.Mat) (types.Frame, error) {
	if mat.Empty() {
		return types.Frame{}, ErrEmptyImage
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return types.Frame{}, fmt.Errorf("%w: mat type %v, want CV_8UC3", types.ErrMalformedFrame, mat.Type())
	}
	frame := types.Frame{
		Data:   mat.ToBytes(),
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Format: types.FormatBGR24,
	}
	if err := frame.Validate(); err != nil {
		return types.Frame{}, err
	}
	return frame, nil
}
