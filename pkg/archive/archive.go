package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExcludePaths are never included in an uploaded archive.
var ExcludePaths = []string{
	".git",
	".github",
}

// Dir builds an in-memory zip archive of sourceDir, excluding
// ExcludePaths. The result is the content blob of an upload request.
func Dir(sourceDir string) ([]byte, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if shouldExclude(relPath) {
			return nil
		}

		file, err := writer.Create(relPath)
		if err != nil {
			return fmt.Errorf("failed to create file in zip: %w", err)
		}
		sourceFile, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open source file: %w", err)
		}
		defer sourceFile.Close()

		if _, err := io.Copy(file, sourceFile); err != nil {
			return fmt.Errorf("failed to write file to zip: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", sourceDir, err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Path archives the given path: directories become zip archives, plain
// files are read as-is.
func Path(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("not a valid path: %w", err)
	}
	if info.IsDir() {
		return Dir(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

// shouldExclude checks whether relPath falls under an excluded tree.
func shouldExclude(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for _, exclude := range ExcludePaths {
		for _, part := range parts {
			if part == exclude {
				return true
			}
		}
	}
	return false
}
