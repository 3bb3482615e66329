package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileStore writes device media into a flat uploads directory:
// screen_<device>_<ts>.jpg for captures, video_<camera>_<ts>.mp4 for
// recordings.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Dir() string { return f.dir }

// StoreCapture persists one decoded screen capture and returns its filename.
func (f *FileStore) StoreCapture(deviceID string, data []byte, timestamp string) (string, error) {
	name := fmt.Sprintf("screen_%s_%s.jpg", sanitize(deviceID), sanitize(timestamp))
	if err := os.WriteFile(filepath.Join(f.dir, name), data, 0o644); err != nil {
		return "", errors.Wrap(err, "write capture")
	}
	return name, nil
}

// StoreVideo streams an uploaded recording to disk and returns its filename.
func (f *FileStore) StoreVideo(camera, timestamp string, r io.Reader) (string, error) {
	name := fmt.Sprintf("video_%s_%s.mp4", sanitize(camera), sanitize(timestamp))
	dst, err := os.Create(filepath.Join(f.dir, name))
	if err != nil {
		return "", errors.Wrap(err, "create video file")
	}
	defer func() { _ = dst.Close() }()
	if _, err := io.Copy(dst, r); err != nil {
		return "", errors.Wrap(err, "write video file")
	}
	return name, nil
}

// sanitize keeps device-supplied strings from escaping the upload dir or
// producing unusable filenames.
func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '-'
	}, s)
}
