// Package payload turns command results and files into domain.Sendable
// values and renders them as text for the backends.
package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"notirun/internal/domain"
)

const (
	MIMEPlain = "text/plain"
	MIMEPNG   = "image/png"
	MIMEJPEG  = "image/jpeg"
	MIMEJSON  = "application/json"
	MIMECSV   = "text/csv"
)

var mimeByExt = map[string]string{
	"png":  MIMEPNG,
	"jpg":  MIMEJPEG,
	"jpeg": MIMEJPEG,
	"json": MIMEJSON,
	"csv":  MIMECSV,
}

// MIMEForExt maps a file extension (with or without the leading dot) to a
// MIME type. Unknown extensions are treated as plain text.
func MIMEForExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return MIMEPlain
}

// MIMEForPath infers the MIME type from the last extension of path.
func MIMEForPath(path string) string {
	return MIMEForExt(filepath.Ext(path))
}

func FromResult(res domain.CommandResult) domain.Sendable {
	return domain.Result{Result: res}
}

// FromFile wraps file content as an Image when its MIME type is an image,
// otherwise as a File.
func FromFile(name string, data []byte) domain.Sendable {
	mime := MIMEForPath(name)
	if strings.HasPrefix(mime, "image/") {
		return domain.Image{MIME: mime, Filename: name, Data: data}
	}
	return domain.File{MIME: mime, Filename: name, Data: data}
}

// LoadFile reads path and wraps it with FromFile. The attachment keeps only
// the base name of path.
func LoadFile(path string) (domain.Sendable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", path, err)
	}
	return FromFile(filepath.Base(path), data), nil
}
