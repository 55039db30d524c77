// Package compress normalizes images to a bounded resolution and quality
// before transfer. It is deliberately lossy about failure: anything that
// cannot be decoded or re-encoded is passed through unchanged.
package compress

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
)

// Compressor re-encodes images to JPEG within a maximum dimension.
type Compressor struct {
	maxDimension int
	quality      int
	minBytes     int64
}

// NewCompressor creates a Compressor. maxDimension bounds both width and
// height, quality is JPEG quality 1-100, minBytes is the size below which
// files are passed through untouched.
func NewCompressor(maxDimension, quality int, minBytes int64) *Compressor {
	if maxDimension <= 0 {
		maxDimension = 1920
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Compressor{
		maxDimension: maxDimension,
		quality:      quality,
		minBytes:     minBytes,
	}
}

// Compress returns a re-encoded copy of f, or f itself when compression does
// not apply or fails. The result is never larger than the input. GIFs are
// excluded because re-encoding would destroy animation.
func (c *Compressor) Compress(ctx context.Context, f models.LocalFile) models.LocalFile {
	if !f.IsImage() || f.Size() < c.minBytes {
		return f
	}
	if f.MimeType == "image/gif" {
		return f
	}

	img, err := decode(f)
	if err != nil {
		observability.Debugf("compress: leaving %s unchanged: %v", f.Name, err)
		return f
	}

	if err := ctx.Err(); err != nil {
		return f
	}

	img = applyOrientation(img, orientationOf(f.Data))

	bounds := img.Bounds()
	if bounds.Dx() > c.maxDimension || bounds.Dy() > c.maxDimension {
		img = imaging.Fit(img, c.maxDimension, c.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		observability.Debugf("compress: encode failed for %s: %v", f.Name, err)
		return f
	}

	// Only use the compressed copy if it is actually smaller.
	if int64(buf.Len()) >= f.Size() {
		return f
	}

	return models.LocalFile{
		Name:     f.Name,
		MimeType: "image/jpeg",
		Data:     buf.Bytes(),
	}
}

// Dimensions returns the pixel width and height of an image file, or zeros
// when it cannot be decoded.
func Dimensions(f models.LocalFile) (int, int) {
	img, err := decode(f)
	if err != nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func decode(f models.LocalFile) (image.Image, error) {
	if isHEIC(f.MimeType) {
		return goheif.Decode(bytes.NewReader(f.Data))
	}
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	return img, err
}

func isHEIC(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return mt == "image/heic" || mt == "image/heif"
}

// orientationOf reads the EXIF orientation tag, defaulting to 1 (normal).
func orientationOf(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orientation
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
