package server

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxUploadSize = 16 << 20 // 16 MB
	tmpSuffix     = ".part"
)

var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// allowed upload extensions; anything else is stored as .bin
var mediaExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".mp3":  true,
}

// MediaStore keeps uploaded avatars and chat attachments on disk under
// the configured data dir. Files are written to a temp name first and
// renamed once complete; the cleanup task sweeps abandoned temp files.
type MediaStore struct {
	dir string
}

func NewMediaStore(dir string) *MediaStore {
	return &MediaStore{dir: dir}
}

// Init creates the storage directories and starts the cleanup task.
func (m *MediaStore) Init() error {
	for _, sub := range []string{"avatars", "uploads"} {
		if err := os.MkdirAll(filepath.Join(m.dir, sub), 0o755); err != nil {
			return err
		}
	}

	go m.cleanupTask()
	return nil
}

// Save stores the contents of r under sub ("avatars" or "uploads")
// with a random name keeping the original extension. Returns the name
// relative to the data dir.
func (m *MediaStore) Save(r io.Reader, origName, sub string) (string, error) {
	ext := strings.ToLower(filepath.Ext(origName))
	if !mediaExtensions[ext] {
		ext = ".bin"
	}

	name := uuid.NewString() + ext
	finalPath := filepath.Join(m.dir, sub, name)
	tmpPath := finalPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	// +1, чтобы отличить ровно лимит от превышения
	n, err := io.Copy(f, io.LimitReader(r, maxUploadSize+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if n > maxUploadSize {
		os.Remove(tmpPath)
		return "", ErrUploadTooLarge
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	return sub + "/" + name, nil
}

// Dir returns the data dir root served under /media/.
func (m *MediaStore) Dir() string {
	return m.dir
}

// cleanupTask removes temp files older than an hour, left behind by
// interrupted uploads.
func (m *MediaStore) cleanupTask() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		for _, sub := range []string{"avatars", "uploads"} {
			entries, err := os.ReadDir(filepath.Join(m.dir, sub))
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !strings.HasSuffix(entry.Name(), tmpSuffix) {
					continue
				}
				info, err := entry.Info()
				if err != nil || info.ModTime().After(cutoff) {
					continue
				}
				path := filepath.Join(m.dir, sub, entry.Name())
				if err := os.Remove(path); err == nil {
					log.Printf("[media] removed stale upload %s", path)
				}
			}
		}
	}
}
