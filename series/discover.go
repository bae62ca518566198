package series

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	medcompanion "github.com/pnavin9/MedCompanion"
)

// dicomExtensions is the set of file extensions (lowercase) the converter
// reads.
var dicomExtensions = map[string]bool{
	".dcm":   true,
	".dicom": true,
}

// ErrNoFiles is returned when a folder exists but holds no DICOM files. It
// is always wrapped together with medcompanion.ErrNotFound.
var ErrNoFiles = errors.New("no DICOM files found in folder")

// Discover returns the DICOM files directly inside folder, sorted by name.
// Subfolders are not descended into. The sorted position of a file is its
// slice index.
func Discover(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("folder %s: %w", folder, medcompanion.ErrNotFound)
		}
		return nil, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("folder %s is not a directory: %w", folder, medcompanion.ErrNotFound)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if dicomExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w: %w", folder, ErrNoFiles, medcompanion.ErrNotFound)
	}
	sort.Strings(files)
	return files, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, medcompanion.ErrNotFound)
}
