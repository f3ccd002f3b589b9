// Package dataset reads a labelled two-class image tree and carves a
// deterministic validation subset from it.
package dataset

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "evaltrack/internal/pkg/errors"
)

// ClassCount is the number of label directories a binary dataset must have.
const ClassCount = 2

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".bmp": {}, ".gif": {},
	".tif": {}, ".tiff": {}, ".webp": {},
}

// Sample is one labelled image file.
type Sample struct {
	Path  string
	Label int
}

// Source is the validation subset of a dataset directory, in evaluation order.
type Source struct {
	Root    string
	Classes []string
	Samples []Sample
	// Total counts every image found before the split.
	Total int
}

// Open scans root and keeps, per class, the first int(split*n) images in name
// order. Classes are the label subdirectories in name order, so the result is
// identical on every call for the same tree.
func Open(root string, split float64) (*Source, error) {
	if split <= 0 || split >= 1 {
		return nil, apperrors.DataSourceError(fmt.Sprintf("validation split %v must be between 0 and 1", split), nil)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperrors.DataSourceError(fmt.Sprintf("validation directory %s", root), err)
	}
	if !info.IsDir() {
		return nil, apperrors.DataSourceError(fmt.Sprintf("validation path %s is not a directory", root), nil)
	}

	classes, err := listClasses(root)
	if err != nil {
		return nil, err
	}

	source := &Source{Root: root, Classes: classes}
	for label, class := range classes {
		files, err := listImages(filepath.Join(root, class))
		if err != nil {
			return nil, apperrors.DataSourceError(fmt.Sprintf("scan class %q", class), err)
		}
		if len(files) == 0 {
			return nil, apperrors.DataSourceError(fmt.Sprintf("class %q has no images", class), nil)
		}
		source.Total += len(files)
		stop := int(math.Floor(split * float64(len(files))))
		for _, path := range files[:stop] {
			source.Samples = append(source.Samples, Sample{Path: path, Label: label})
		}
	}
	if len(source.Samples) == 0 {
		return nil, apperrors.DataSourceError(fmt.Sprintf("validation split %v of %d images selects nothing", split, source.Total), nil)
	}
	return source, nil
}

// Len returns the number of validation samples.
func (s *Source) Len() int {
	return len(s.Samples)
}

// NumBatches returns how many batches of batchSize cover the source.
func (s *Source) NumBatches(batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (len(s.Samples) + batchSize - 1) / batchSize
}

func listClasses(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, apperrors.DataSourceError(fmt.Sprintf("read %s", root), err)
	}
	var classes []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		classes = append(classes, entry.Name())
	}
	sort.Strings(classes)
	if len(classes) != ClassCount {
		return nil, apperrors.DataSourceError(
			fmt.Sprintf("expected %d label directories in %s, found %d (%s)", ClassCount, root, len(classes), strings.Join(classes, ", ")),
			nil,
		)
	}
	return classes, nil
}

// listImages walks dir recursively in lexical order and returns image files.
func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
