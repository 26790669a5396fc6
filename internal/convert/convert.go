// Package convert bridges the worker's JSON pixel exports and PNG
// rasters. The json2png direction is the post-process stage run by the
// dispatcher; png2json is its inverse for authoring worker inputs.
package convert

import (
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/NTOM/piskel2Houdini/internal/raster"
)

const pollInterval = 500 * time.Millisecond

// ServeDir is where the worker drops its exports, next to the scene.
func ServeDir(sourcePath string) string {
	return filepath.Join(filepath.Dir(sourcePath), "export", "serve")
}

// JSONPath is the pixel export for one job.
func JSONPath(sourcePath, uuid string) string {
	return filepath.Join(ServeDir(sourcePath), uuid+".json")
}

// PNGPath is the rendered raster for one job.
func PNGPath(sourcePath, uuid string) string {
	return filepath.Join(ServeDir(sourcePath), uuid+".png")
}

// Report is the converter's result document. It is printed to stdout
// and, when requested, duplicated into a file so the caller can recover
// it either way.
type Report struct {
	OK            bool   `json:"ok"`
	UUID          string `json:"uuid"`
	PathJSON      string `json:"path_json"`
	PathPNG       string `json:"path_png,omitempty"`
	Exists        bool   `json:"exists"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	PixelsWritten int    `json:"pixels_written,omitempty"`
	Error         string `json:"error,omitempty"`
}

// JSON2PNGOptions drive one conversion attempt.
type JSON2PNGOptions struct {
	Hip     string  // scene path; exports live next to it
	UUID    string  // job id, names both files
	WaitSec float64 // how long to wait for the export to appear
	NoData  bool    // verify existence and dimensions only, write nothing
}

// JSON2PNG waits for the worker's pixel export and renders it to a PNG
// beside it. All failures are encoded in the report.
func JSON2PNG(opts JSON2PNGOptions) Report {
	rep := Report{
		UUID:     opts.UUID,
		PathJSON: JSONPath(opts.Hip, opts.UUID),
	}

	if !waitForFile(rep.PathJSON, opts.WaitSec) {
		rep.Error = fmt.Sprintf("no data file after %gs: %s", opts.WaitSec, rep.PathJSON)
		return rep
	}
	rep.Exists = true

	data, err := os.ReadFile(rep.PathJSON)
	if err != nil {
		rep.Error = fmt.Sprintf("read %s: %v", rep.PathJSON, err)
		return rep
	}
	grid, err := raster.DecodeDocument(data)
	if err != nil {
		rep.Error = fmt.Sprintf("decode %s: %v", rep.PathJSON, err)
		return rep
	}
	rep.Width = grid.Width
	rep.Height = grid.Height

	if opts.NoData {
		rep.OK = true
		return rep
	}

	pngPath := PNGPath(opts.Hip, opts.UUID)
	if err := writePNG(pngPath, grid); err != nil {
		rep.Error = fmt.Sprintf("write %s: %v", pngPath, err)
		return rep
	}
	rep.OK = true
	rep.PathPNG = pngPath
	rep.PixelsWritten = grid.Width * grid.Height
	return rep
}

// waitForFile polls for path every half second until it exists or the
// budget runs out. A zero budget checks exactly once.
func waitForFile(path string, waitSec float64) bool {
	deadline := time.Now().Add(time.Duration(waitSec * float64(time.Second)))
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}

// writePNG renders the grid and lands it atomically so readers never
// see a half-written raster.
func writePNG(path string, grid *raster.Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".png-*")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, grid.Image()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PNG2JSONOptions drive the inverse conversion.
type PNG2JSONOptions struct {
	Input  string // PNG to read
	Output string // JSON destination; defaults to Input with .json
	Format string // "simple" or "metadata"
}

// PNG2JSON reads a raster and writes the worker-style pixel document.
// It returns the output path.
func PNG2JSON(opts PNG2JSONOptions) (string, error) {
	f, err := os.Open(opts.Input)
	if err != nil {
		return "", err
	}
	img, err := png.Decode(f)
	_ = f.Close()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", opts.Input, err)
	}

	grid := raster.FromImage(img)
	var doc []byte
	switch opts.Format {
	case "", "simple":
		doc, err = grid.EncodeSimple()
	case "metadata":
		doc, err = grid.EncodeMetadata(filepath.Base(opts.Input))
	default:
		return "", fmt.Errorf("unknown format %q (want simple or metadata)", opts.Format)
	}
	if err != nil {
		return "", err
	}

	out := opts.Output
	if out == "" {
		ext := filepath.Ext(opts.Input)
		out = opts.Input[:len(opts.Input)-len(ext)] + ".json"
	}
	if err := os.WriteFile(out, doc, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

// Emit prints the report to stdout and, when outPath is non-empty,
// writes the same document there. Stdout stays primary; the file write
// failing is reported but does not mask the report itself.
func Emit(rep Report, outPath string) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if outPath == "" {
		return nil
	}
	return os.WriteFile(outPath, b, 0o644)
}
