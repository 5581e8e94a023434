package capture

import (
	"errors"
	"testing"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

func solidFrame(t *testing.T, w, h int, b, g, r byte) types.Frame {
	t.Helper()
	f := types.NewFrame(w, h)
	for i := 0; i < len(f.Data); i += 3 {
		f.Data[i], f.Data[i+1], f.Data[i+2] = b, g, r
	}
	return f
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestJPEGRoundTripKeepsGeometryAndChannelOrder(t *testing.T) {
	in := solidFrame(t, 64, 48, 200, 40, 10)

	data, err := EncodeJPEG(in, 95)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("output is not a JPEG")
	}

	out, err := DecodeJPEG(data)
	if err != nil {
		t.Fatalf("DecodeJPEG: %v", err)
	}
	if !out.SameGeometry(in) {
		t.Fatalf("geometry %dx%d %s, want %dx%d", out.Width, out.Height, out.Format, in.Width, in.Height)
	}

	// Lossy, but a solid colour survives closely and stays in BGR order.
	mid := (24*64 + 32) * 3
	for c, want := range []byte{200, 40, 10} {
		if d := absDiff(out.Data[mid+c], want); d > 8 {
			t.Errorf("channel %d = %d, want about %d", c, out.Data[mid+c], want)
		}
	}
}

func TestEncodeRejectsMalformedFrame(t *testing.T) {
	bad := types.Frame{Data: make([]byte, 10), Width: 4, Height: 4, Format: types.FormatBGR24}
	if _, err := EncodeJPEG(bad, 80); !errors.Is(err, types.ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeJPEG(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("nil input: err = %v", err)
	}
	if _, err := DecodeJPEG([]byte("definitely not an image")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestOpenCameraEmptySource(t *testing.T) {
	if _, err := OpenCamera(""); err == nil {
		t.Fatalf("expected error")
	}
}
