package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Storage opens the byte sources and sinks behind transfers.
type Storage interface {
	// CreateSink creates the destination for an incoming file from friendID.
	// name is already sanitized. It returns the sink and the path it writes to.
	CreateSink(friendID uint32, name string) (Sink, string, error)

	// OpenSource opens a local file for sending and returns its size.
	OpenSource(path string) (Source, uint64, error)

	// Open opens a stored file for reading back.
	Open(path string) (io.ReadCloser, error)
}

// DirStorage stores incoming files under Root/friend_<id>/<name>.
type DirStorage struct {
	Root     string
	DirMode  os.FileMode
	FileMode os.FileMode
}

// NewDirStorage creates a DirStorage rooted at root.
func NewDirStorage(root string) *DirStorage {
	return &DirStorage{
		Root:     root,
		DirMode:  0o775,
		FileMode: 0o644,
	}
}

// FriendDirName returns the per-friend subdirectory name.
func FriendDirName(friendID uint32) string {
	return fmt.Sprintf("friend_%d", friendID)
}

// DestinationPath returns where an incoming file named name from friendID is stored.
func (s *DirStorage) DestinationPath(friendID uint32, name string) (string, error) {
	dir := filepath.Join(s.Root, FriendDirName(friendID))
	path := filepath.Join(dir, name)
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("%w: %q", ErrDirectoryTraversal, name)
	}
	return path, nil
}

// CreateSink implements Storage. Existing files are truncated.
func (s *DirStorage) CreateSink(friendID uint32, name string) (Sink, string, error) {
	path, err := s.DestinationPath(friendID, name)
	if err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), s.DirMode); err != nil {
		return nil, "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CreateSink",
		"friend_id": friendID,
		"path":      path,
	}).Debug("Creating file for incoming transfer")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.FileMode)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// OpenSource implements Storage.
func (s *DirStorage) OpenSource(path string) (Source, uint64, error) {
	safePath, err := ValidatePath(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(safePath)
	if err != nil {
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", safePath)
	}

	return f, uint64(info.Size()), nil
}

// Open implements Storage.
func (s *DirStorage) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// ValidatePath checks if a file path is safe from directory traversal attacks.
// It returns the cleaned path or an error if the path contains traversal attempts.
func ValidatePath(path string) (string, error) {
	cleanedPath := filepath.Clean(path)

	for _, part := range strings.Split(filepath.ToSlash(cleanedPath), "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}

	return cleanedPath, nil
}
