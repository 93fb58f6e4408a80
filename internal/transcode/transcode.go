// Package transcode recompresses oversized camera images.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/metrics"
)

// Options controls recompression. Images smaller than MinBytes are never
// touched.
type Options struct {
	Enabled  bool
	MinBytes int
	MaxWidth int
	Quality  int
	Format   string
}

// DefaultOptions returns recompression settings with transcoding disabled.
func DefaultOptions() Options {
	return Options{
		Enabled:  false,
		MinBytes: 256 << 10,
		MaxWidth: 1280,
		Quality:  75,
		Format:   "jpeg",
	}
}

// Fingerprint summarizes the options that change the output bytes.
func (o Options) Fingerprint() string {
	if !o.Enabled {
		return "off"
	}
	return fmt.Sprintf("%s:q%d:w%d:min%d", format(o.Format), quality(o.Quality), o.MaxWidth, o.MinBytes)
}

// Transcode returns data recompressed according to o, with its mime type.
// The input is returned unchanged when transcoding is disabled, the input is
// below the size threshold, decoding or encoding fails, or the result would
// not be smaller.
func Transcode(data []byte, mimeType string, o Options) ([]byte, string) {
	if !o.Enabled || len(data) < o.MinBytes {
		return data, mimeType
	}
	out, outType, err := recompress(data, o)
	if err != nil {
		logx.Log.Debug().Err(err).Str("mime", mimeType).Int("bytes", len(data)).Msg("transcode skipped")
		return data, mimeType
	}
	if len(out) >= len(data) {
		return data, mimeType
	}
	metrics.RecordTranscodeSavings(len(data), len(out))
	return out, outType
}

func recompress(data []byte, o Options) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	img = fitWidth(img, o.MaxWidth)

	var buf bytes.Buffer
	switch format(o.Format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality(o.Quality)}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		return nil, "", errors.New("transcode: unsupported format " + o.Format)
	}
}

func fitWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func format(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "", "jpeg", "jpg", "image/jpeg":
		return "jpeg"
	case "png", "image/png":
		return "png"
	default:
		return strings.ToLower(f)
	}
}

func quality(q int) int {
	switch {
	case q <= 0:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	default:
		return q
	}
}
