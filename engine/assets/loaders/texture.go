package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// TextureData is a decoded image as tightly packed RGBA8 rows, top row first unless FlipY
// was requested.
type TextureData struct {
	Name   string
	Width  uint32
	Height uint32
	Pixels []uint8
}

type TextureOptions struct {
	// FlipY stores the bottom row first.
	FlipY bool
	// MaxSize scales the image down so neither side exceeds it. Zero keeps the source size.
	MaxSize int
}

// LoadTexture decodes a png, jpeg, bmp or tiff file.
func LoadTexture(path string, opts TextureOptions) (*TextureData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	tex := TextureFromImage(img, opts)
	tex.Name = path
	return tex, nil
}

// TextureFromImage converts any image into RGBA8, resampling with Catmull-Rom when it is
// larger than opts.MaxSize.
func TextureFromImage(img image.Image, opts TextureOptions) *TextureData {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if opts.MaxSize > 0 && (w > opts.MaxSize || h > opts.MaxSize) {
		if w >= h {
			h = max(1, h*opts.MaxSize/w)
			w = opts.MaxSize
		} else {
			w = max(1, w*opts.MaxSize/h)
			h = opts.MaxSize
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	}

	pixels := dst.Pix
	if opts.FlipY {
		stride := w * 4
		flipped := make([]uint8, len(pixels))
		for y := 0; y < h; y++ {
			copy(flipped[(h-1-y)*stride:(h-y)*stride], pixels[y*stride:(y+1)*stride])
		}
		pixels = flipped
	}
	return &TextureData{Width: uint32(w), Height: uint32(h), Pixels: pixels}
}

// Checkerboard is the texture used when a model names none.
func Checkerboard(size, cells int, a, b [4]uint8) *TextureData {
	pixels := make([]uint8, 0, size*size*4)
	cell := max(1, size/cells)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			pixels = append(pixels, c[:]...)
		}
	}
	return &TextureData{Name: "checkerboard", Width: uint32(size), Height: uint32(size), Pixels: pixels}
}
