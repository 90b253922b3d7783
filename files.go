package peerchat

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const fallbackFilename = "received_file"

// maxCollisionAttempts bounds the "name (n).ext" search in Downloads.Save.
const maxCollisionAttempts = 1000

// SanitizeFilename reduces a name declared by the peer to a bare file name.
// Directory components (either separator style) and control characters are
// dropped; names that end up empty, "." or ".." become "received_file".
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	switch name {
	case "", ".", "..":
		return fallbackFilename
	}
	return name
}

// Downloads stores received files in Dir, never overwriting an existing file.
type Downloads struct {
	Dir string
}

// Save writes data under the sanitized form of name and returns the path it
// used. If the name is taken, "name (1).ext", "name (2).ext", ... are tried.
func (d Downloads) Save(name string, data []byte) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}

	name = SanitizeFilename(name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 0; i < maxCollisionAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = base + " (" + strconv.Itoa(i) + ")" + ext
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", &IOError{Op: "write", Path: path, Err: err}
		}

		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", &IOError{Op: "write", Path: path, Err: err}
		}
		return path, nil
	}

	return "", &IOError{Op: "write", Path: filepath.Join(dir, name), Err: os.ErrExist}
}

// ReadFile reads a regular file of at most max bytes. The size is checked
// before reading so an oversized file is never loaded.
func ReadFile(path string, max int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &IOError{Op: "read", Path: path, Err: errors.New("not a regular file")}
	}
	if max > 0 && info.Size() > max {
		return nil, &IOError{Op: "read", Path: path, Err: errors.Wrapf(ErrPayloadTooLarge, "%d bytes", info.Size())}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}
