package render

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	dicom "github.com/yasushi-saito/go-dicom"

	"github.com/151706061/epad-ws-sub000/models"
)

const gridCells = 4 // grid previews are gridCells x gridCells

// PNGRenderer is the default models.Renderer: go-dicom pixel extraction,
// min/max window normalization, stdlib PNG encoding.
type PNGRenderer struct{}

func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{}
}

func (r *PNGRenderer) Render(_ context.Context, task models.GenerationTask) (int64, error) {
	frames, err := decodeFrames(task.SourcePath)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("no pixel data in %s", task.SourcePath)
	}

	switch task.Kind {
	case models.TaskSingleFrame:
		return writePNG(task.OutputPath, frames[0])
	case models.TaskMultiFrame:
		return writeFrameSet(task.OutputPath, frames)
	case models.TaskSegmentationMask:
		return r.renderMasks(task, frames)
	case models.TaskGrid:
		return writePNG(task.OutputPath, composeGrid(frames))
	}
	return 0, fmt.Errorf("unknown task kind %q", task.Kind)
}

func (r *PNGRenderer) renderMasks(task models.GenerationTask, frames []*image.Gray) (int64, error) {
	for i := range frames {
		frames[i] = binarize(frames[i])
	}
	total, err := writeFrameSet(task.OutputPath, frames)
	if err != nil {
		return total, err
	}
	if task.AnnotationPath != "" {
		n, err := writeAnnotation(task, len(frames))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// writeAnnotation emits the textual sidecar describing the segmentation object.
// Only the first burst of a DSO delivery carries an annotation path.
func writeAnnotation(task models.GenerationTask, frameCount int) (int64, error) {
	doc := map[string]any{
		"series_uid": task.SeriesUID,
		"study_uid":  task.StudyUID,
		"image_uid":  task.ImageUID,
		"source":     filepath.Base(task.SourcePath),
		"frames":     frameCount,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(task.AnnotationPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(task.AnnotationPath, body, 0o644); err != nil {
		return 0, fmt.Errorf("writing annotation sidecar: %w", err)
	}
	return int64(len(body)), nil
}

func writeFrameSet(dir string, frames []*image.Gray) (int64, error) {
	var total int64
	for i, frame := range frames {
		n, err := writePNG(filepath.Join(dir, fmt.Sprintf("%d.png", i)), frame)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func writePNG(path string, img image.Image) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating artifact directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		return 0, fmt.Errorf("encoding %s: %w", path, err)
	}
	st, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// decodeFrames extracts every frame as an 8-bit grayscale image, normalizing
// 16-bit pixel data over its observed range.
func decodeFrames(path string) ([]*image.Gray, error) {
	ds, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	rows := intAttr(ds, "Rows")
	cols := intAttr(ds, "Columns")
	bits := intAttr(ds, "BitsAllocated")
	frameCount := intAttr(ds, "NumberOfFrames")
	if frameCount == 0 {
		frameCount = 1
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("missing Rows/Columns in %s", path)
	}

	pixels, err := pixelData(ds)
	if err != nil {
		return nil, err
	}
	frameBytes := len(pixels) / frameCount
	if frameBytes == 0 {
		return nil, fmt.Errorf("pixel data too short in %s", path)
	}

	frames := make([]*image.Gray, 0, frameCount)
	for n := 0; n < frameCount; n++ {
		raw := pixels[n*frameBytes : (n+1)*frameBytes]
		frames = append(frames, grayFrame(raw, cols, rows, bits))
	}
	return frames, nil
}

func pixelData(ds *dicom.DataSet) ([]byte, error) {
	for _, elem := range ds.Elements {
		if elem.Tag != dicom.TagPixelData {
			continue
		}
		var out []byte
		for _, v := range elem.Value {
			b, ok := v.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected pixel data fragment %T", v)
			}
			out = append(out, b...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("no PixelData element")
}

func grayFrame(raw []byte, width, height, bits int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if bits <= 8 {
		copy(img.Pix, raw)
		return img
	}

	// 16-bit: window to the observed min/max.
	count := len(raw) / 2
	if count > width*height {
		count = width * height
	}
	lo, hi := uint16(0xffff), uint16(0)
	for i := 0; i < count; i++ {
		v := binary.LittleEndian.Uint16(raw[i*2:])
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := int(hi) - int(lo)
	if span == 0 {
		span = 1
	}
	for i := 0; i < count; i++ {
		v := binary.LittleEndian.Uint16(raw[i*2:])
		img.Pix[i] = uint8((int(v) - int(lo)) * 255 / span)
	}
	return img
}

// binarize turns a decoded segmentation frame into a hard mask.
func binarize(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Rect)
	for i, p := range img.Pix {
		if p > 0 {
			out.Pix[i] = 0xff
		}
	}
	return out
}

// composeGrid lays up to gridCells^2 evenly spaced frames into one preview.
func composeGrid(frames []*image.Gray) image.Image {
	cells := gridCells * gridCells
	step := 1
	if len(frames) > cells {
		step = len(frames) / cells
	}
	picked := make([]*image.Gray, 0, cells)
	for i := 0; i < len(frames) && len(picked) < cells; i += step {
		picked = append(picked, frames[i])
	}

	w, h := frames[0].Rect.Dx(), frames[0].Rect.Dy()
	grid := image.NewGray(image.Rect(0, 0, w*gridCells, h*gridCells))
	for i, frame := range picked {
		x := (i % gridCells) * w
		y := (i / gridCells) * h
		draw.Draw(grid, image.Rect(x, y, x+w, y+h), frame, frame.Rect.Min, draw.Src)
	}
	return grid
}

var _ models.Renderer = (*PNGRenderer)(nil)
