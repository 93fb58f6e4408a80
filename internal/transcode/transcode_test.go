package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"
)

func noisyJPEG(t *testing.T, w, h, q int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(int64(w*h + q)))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(x), uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestTranscodeDownscales(t *testing.T) {
	in := noisyJPEG(t, 800, 400, 95)
	opts := Options{Enabled: true, MaxWidth: 200, Quality: 60, Format: "jpeg"}
	out, mime := Transcode(in, "image/jpeg", opts)
	if mime != "image/jpeg" {
		t.Fatalf("mime: %s", mime)
	}
	if len(out) >= len(in) {
		t.Fatalf("output not smaller: %d >= %d", len(out), len(in))
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestTranscodeNoop(t *testing.T) {
	in := noisyJPEG(t, 64, 64, 90)
	tests := []struct {
		name string
		data []byte
		opts Options
	}{
		{"disabled", in, Options{Enabled: false, MaxWidth: 10}},
		{"below threshold", in, Options{Enabled: true, MinBytes: len(in) + 1, MaxWidth: 10}},
		{"undecodable", []byte("definitely not an image"), Options{Enabled: true, MaxWidth: 10}},
		{"unknown format", in, Options{Enabled: true, MaxWidth: 10, Format: "tiff"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, mime := Transcode(tt.data, "image/jpeg", tt.opts)
			if !bytes.Equal(out, tt.data) || mime != "image/jpeg" {
				t.Fatalf("expected input back unchanged")
			}
		})
	}
}

func TestTranscodeNeverGrows(t *testing.T) {
	in := noisyJPEG(t, 64, 64, 10)
	out, mime := Transcode(in, "image/jpeg", Options{Enabled: true, Quality: 100})
	if !bytes.Equal(out, in) || mime != "image/jpeg" {
		t.Fatalf("larger output must be discarded (%d vs %d)", len(out), len(in))
	}
}

func TestFingerprint(t *testing.T) {
	a := Options{Enabled: true, MaxWidth: 640, Quality: 70, Format: "jpg"}
	b := a
	b.Format = "jpeg"
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("equivalent formats must share a fingerprint")
	}
	b.Quality = 71
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("quality must change the fingerprint")
	}
	if (Options{}).Fingerprint() != (Options{MaxWidth: 5}).Fingerprint() {
		t.Fatalf("disabled options must share a fingerprint")
	}
}
