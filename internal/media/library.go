package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Library owns the on-disk layout for media files:
//
//	<root>/uploads/             original source files
//	<root>/videos/<videoID>/    transcoded HLS outputs
//	<root>/thumbnails/          generated thumbnails
type Library struct {
	root string
}

// NewLibrary resolves the root and creates the layout directories.
func NewLibrary(root string) (*Library, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{"uploads", "videos", "thumbnails"} {
		if err := os.MkdirAll(filepath.Join(absRoot, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Library{root: absRoot}, nil
}

// Root returns the resolved media root directory.
func (l *Library) Root() string {
	return l.root
}

// UploadPath returns the storage path for an uploaded source file. The
// filename is flattened to its base so request data cannot traverse out of
// the uploads directory.
func (l *Library) UploadPath(filename string) string {
	return filepath.Join(l.root, "uploads", filepath.Base(filename))
}

// SaveUpload streams an uploaded source file into the uploads directory and
// returns its path and size.
func (l *Library) SaveUpload(src io.Reader, filename string) (string, int64, error) {
	path := l.UploadPath(filename)
	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(file, src)
	if err != nil {
		file.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("close upload file: %w", err)
	}
	return path, size, nil
}

// RemoveUpload deletes an uploaded source file. A missing file is not an
// error; the cleanup may run twice.
func (l *Library) RemoveUpload(filename string) error {
	err := os.Remove(l.UploadPath(filename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// VideoDir returns the output directory for one video's transcoded
// artifacts.
func (l *Library) VideoDir(videoID string) string {
	return filepath.Join(l.root, "videos", filepath.Base(videoID))
}

// RenditionPath returns the path of a file inside the video's output
// directory.
func (l *Library) RenditionPath(videoID, filename string) string {
	return filepath.Join(l.VideoDir(videoID), filepath.Base(filename))
}

// ThumbnailPath returns the path for the video's generated thumbnail.
func (l *Library) ThumbnailPath(videoID string) string {
	return filepath.Join(l.root, "thumbnails", filepath.Base(videoID)+".jpg")
}

// RemoveVideoArtifacts deletes the video's output directory and thumbnail.
func (l *Library) RemoveVideoArtifacts(videoID string) error {
	if err := os.RemoveAll(l.VideoDir(videoID)); err != nil {
		return fmt.Errorf("remove video outputs: %w", err)
	}
	if err := os.Remove(l.ThumbnailPath(videoID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove thumbnail: %w", err)
	}
	return nil
}
