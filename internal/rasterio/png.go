// Package rasterio loads and saves the engine's raster types against plain
// PNG files on disk. It is deliberately the thinnest possible adapter: the
// scripting engine itself never touches a codec or the filesystem.
package rasterio

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"imsec/script"
)

// LoadMono decodes a PNG file into a single-plane float32 raster, using the
// luminance of each pixel normalized to [0, 1].
func LoadMono(path string) (*script.MonoImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := script.NewMonoImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Data[y*w+x] = float32(gray.Y) / 65535
		}
	}
	return out, nil
}

// SaveRGB encodes an RGB raster (values expected roughly in [0, 1]) as an
// 8-bit PNG.
func SaveRGB(path string, img *script.RGBImage) error {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := y*img.Width + x
			out.SetRGBA(x, y, color.RGBA{
				R: clamp8(img.R[i]),
				G: clamp8(img.G[i]),
				B: clamp8(img.B[i]),
				A: 255,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}

func clamp8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

// DirImageProvider resolves a pixel shift to `<dir>/shift_<value>.png`,
// implementing script.ImageProvider for CLI use.
type DirImageProvider struct {
	Dir string
}

func (p DirImageProvider) ImageForShift(ctx context.Context, shift float64) (*script.MonoImage, error) {
	path := filepath.Join(p.Dir, fmt.Sprintf("shift_%g.png", shift))
	return LoadMono(path)
}

// ContinuumImage loads `<dir>/continuum.png`, backing the continuum()
// built-in for CLI use.
func (p DirImageProvider) ContinuumImage(ctx context.Context) (*script.MonoImage, error) {
	return LoadMono(filepath.Join(p.Dir, "continuum.png"))
}
