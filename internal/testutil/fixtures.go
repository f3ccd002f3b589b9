package testutil

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// WriteImageTree writes perClass PNG images of size x size pixels into one
// subdirectory per class. Images of later classes are brighter, so a pooled
// logistic model can separate them.
func WriteImageTree(t testing.TB, root string, classes []string, perClass, size int) {
	t.Helper()
	for c, class := range classes {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create class dir: %v", err)
		}
		for i := 0; i < perClass; i++ {
			base := 40 + 170*c
			img := image.NewRGBA(image.Rect(0, 0, size, size))
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					v := uint8(base + (i*7+x+y)%30)
					img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
				}
			}
			path := filepath.Join(dir, fmt.Sprintf("img_%03d.png", i))
			file, err := os.Create(path)
			if err != nil {
				t.Fatalf("create image: %v", err)
			}
			if err := png.Encode(file, img); err != nil {
				file.Close()
				t.Fatalf("encode image: %v", err)
			}
			if err := file.Close(); err != nil {
				t.Fatalf("close image: %v", err)
			}
		}
	}
}

// LogisticModel mirrors the JSON model format read by the model package.
type LogisticModel struct {
	Format  string    `json:"format"`
	Classes []string  `json:"classes,omitempty"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// WritePooledModel writes a logistic model over per-channel means that
// separates the images produced by WriteImageTree.
func WritePooledModel(t testing.TB, path string) {
	t.Helper()
	WriteJSON(t, path, LogisticModel{
		Format:  "logistic",
		Weights: []float64{4, 4, 4},
		Bias:    -6,
	})
}

// WriteJSON marshals value to path.
func WriteJSON(t testing.TB, path string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
