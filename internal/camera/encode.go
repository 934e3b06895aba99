package camera

import (
	"bytes"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Encode decodes any registered image format, shrinks it to fit within
// maxWidth x maxHeight (zero disables a bound) and re-encodes it as JPEG.
// quality is in [0,1].
func Encode(data []byte, quality float64, maxWidth, maxHeight int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := maxWidth, maxHeight
	if w <= 0 {
		w = bounds.Dx()
	}
	if h <= 0 {
		h = bounds.Dy()
	}
	if bounds.Dx() > w || bounds.Dy() > h {
		img = imaging.Fit(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func jpegQuality(q float64) int {
	if q <= 0 || math.IsNaN(q) {
		return 1
	}
	if q >= 1 {
		return 100
	}
	return max(1, int(math.Round(q*100)))
}
