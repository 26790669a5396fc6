// Package raster converts between the engine's flat pixel documents and
// 2-D images. The engine emits one normalized RGB triple per primitive,
// indexed from the bottom-left cell, x increasing first, then y upward;
// image formats put the origin top-left, so every conversion flips the
// vertical axis.
package raster

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strconv"
)

// ErrDimension is returned when neither the declared primitive count
// nor the pixel count forms a perfect square.
var ErrDimension = errors.New("raster: cannot infer square dimensions")

// RGB is one pixel with components in [0,1].
type RGB [3]float64

// Grid is a decoded pixel document. Pixels are stored in engine order:
// index 0 bottom-left, x-major.
type Grid struct {
	Width  int
	Height int
	Pixels []RGB
}

// document mirrors the engine's JSON export. Pixels can be a list of
// triples or an index-keyed map; total_prims may be absent.
type document struct {
	Metadata struct {
		TotalPrims int `json:"total_prims"`
	} `json:"metadata"`
	TotalPrims int             `json:"total_prims"`
	Pixels     json.RawMessage `json:"pixels"`
}

// DecodeDocument parses an engine pixel document and infers the canvas
// dimensions. When the document declares a usable total_prims that
// count wins; otherwise the pixel count must itself be a perfect
// square, else ErrDimension.
func DecodeDocument(data []byte) (*Grid, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("raster: parse document: %w", err)
	}
	pixels, err := decodePixels(doc.Pixels)
	if err != nil {
		return nil, err
	}
	total := doc.TotalPrims
	if total == 0 {
		total = doc.Metadata.TotalPrims
	}
	w, h, err := Dimensions(total, len(pixels))
	if err != nil {
		return nil, err
	}
	return &Grid{Width: w, Height: h, Pixels: pixels}, nil
}

// Dimensions infers the square canvas size, preferring the declared
// primitive count over the raw pixel count.
func Dimensions(totalPrims, pixelCount int) (int, int, error) {
	if side, ok := squareSide(totalPrims); ok {
		return side, side, nil
	}
	if side, ok := squareSide(pixelCount); ok {
		return side, side, nil
	}
	return 0, 0, fmt.Errorf("%w: total_prims=%d pixels=%d", ErrDimension, totalPrims, pixelCount)
}

func squareSide(n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	side := int(math.Round(math.Sqrt(float64(n))))
	if side*side != n {
		return 0, false
	}
	return side, true
}

func decodePixels(raw json.RawMessage) ([]RGB, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []RGB
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var keyed map[string]RGB
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("raster: pixels are neither a list nor an index map: %w", err)
	}
	type pair struct {
		idx int
		rgb RGB
	}
	pairs := make([]pair, 0, len(keyed))
	maxIdx := -1
	for k, v := range keyed {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			continue // non-numeric keys are metadata noise
		}
		pairs = append(pairs, pair{idx, v})
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if maxIdx < 0 {
		return nil, nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].idx < pairs[j].idx })
	out := make([]RGB, maxIdx+1)
	for _, p := range pairs {
		out[p.idx] = p.rgb
	}
	return out, nil
}

// Image renders the grid into an NRGBA image, flipping the vertical
// axis to match the raster's top-left origin. Components are clamped to
// [0,1] then rounded onto 0..255. Pixels beyond width*height are
// ignored; missing ones stay black.
func (g *Grid) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for idx, rgb := range g.Pixels {
		if idx >= g.Width*g.Height {
			break
		}
		x := idx % g.Width
		y := (g.Height - 1) - idx/g.Width
		img.SetNRGBA(x, y, color.NRGBA{
			R: to255(rgb[0]),
			G: to255(rgb[1]),
			B: to255(rgb[2]),
			A: 255,
		})
	}
	return img
}

// FromImage builds a grid from an image, walking rows bottom-up so the
// resulting pixel order matches the engine's convention. Alpha is
// dropped.
func FromImage(img image.Image) *Grid {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	g := &Grid{Width: w, Height: h, Pixels: make([]RGB, 0, w*h)}
	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			g.Pixels = append(g.Pixels, RGB{
				float64(r>>8) / 255.0,
				float64(gr>>8) / 255.0,
				float64(bl>>8) / 255.0,
			})
		}
	}
	return g
}

// EncodeSimple marshals the pixels alone as an index-keyed map, the
// engine's minimal import format.
func (g *Grid) EncodeSimple() ([]byte, error) {
	return json.MarshalIndent(g.keyedPixels(), "", "  ")
}

// EncodeMetadata marshals the full export document with dimensions and
// the originating image name.
func (g *Grid) EncodeMetadata(sourceImage string) ([]byte, error) {
	doc := map[string]any{
		"metadata": map[string]any{
			"total_prims":  len(g.Pixels),
			"total_points": len(g.Pixels),
			"source_image": sourceImage,
			"width":        g.Width,
			"height":       g.Height,
		},
		"pixels": g.keyedPixels(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (g *Grid) keyedPixels() map[string]RGB {
	out := make(map[string]RGB, len(g.Pixels))
	for i, p := range g.Pixels {
		out[strconv.Itoa(i)] = p
	}
	return out
}

func to255(v float64) uint8 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}
