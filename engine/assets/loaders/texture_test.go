package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestLoadTextureFormats(t *testing.T) {
	dir := t.TempDir()
	src := gradient(4, 3)

	cases := []struct {
		name   string
		encode func(f *os.File) error
	}{
		{"tex.png", func(f *os.File) error { return png.Encode(f, src) }},
		{"tex.bmp", func(f *os.File) error { return bmp.Encode(f, src) }},
	}
	for _, c := range cases {
		path := filepath.Join(dir, c.name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := c.encode(f); err != nil {
			t.Fatalf("%s: encode: %v", c.name, err)
		}
		f.Close()

		tex, err := LoadTexture(path, TextureOptions{})
		if err != nil {
			t.Fatalf("%s: LoadTexture: %v", c.name, err)
		}
		if tex.Width != 4 || tex.Height != 3 || len(tex.Pixels) != 4*3*4 {
			t.Fatalf("%s: expected 4x3 RGBA, got %dx%d with %d bytes", c.name, tex.Width, tex.Height, len(tex.Pixels))
		}
		// pixel (2,1)
		px := tex.Pixels[(1*4+2)*4:]
		if px[0] != 2 || px[1] != 1 || px[2] != 7 || px[3] != 255 {
			t.Errorf("%s: expected pixel (2,1,7,255), got %v", c.name, px[:4])
		}
	}
}

func TestLoadTextureRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTexture(path, TextureOptions{}); err == nil {
		t.Errorf("expected a decode error")
	}
}

func TestTextureFromImageFlipAndResize(t *testing.T) {
	src := gradient(8, 2)

	flipped := TextureFromImage(src, TextureOptions{FlipY: true})
	if flipped.Pixels[1] != 1 {
		t.Errorf("expected the bottom row first, got green %d", flipped.Pixels[1])
	}

	scaled := TextureFromImage(gradient(64, 16), TextureOptions{MaxSize: 32})
	if scaled.Width != 32 || scaled.Height != 8 {
		t.Errorf("expected 32x8, got %dx%d", scaled.Width, scaled.Height)
	}
	if len(scaled.Pixels) != 32*8*4 {
		t.Errorf("expected %d bytes, got %d", 32*8*4, len(scaled.Pixels))
	}
}

func TestCheckerboard(t *testing.T) {
	white, black := [4]uint8{255, 255, 255, 255}, [4]uint8{0, 0, 0, 255}
	tex := Checkerboard(4, 2, white, black)
	if tex.Pixels[0] != 255 || tex.Pixels[2*4] != 0 || tex.Pixels[(2*4+2)*4] != 255 {
		t.Errorf("unexpected checkerboard layout")
	}
}
