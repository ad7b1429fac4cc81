package tool

import (
	"io/fs"
	"os"
)

// FilesystemBackend abstracts the file I/O behind the filesystem tool.
// Paths are already validated against the sandbox.
type FilesystemBackend interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile writes data, creating parent directories as needed.
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]fs.DirEntry, error)
}

// LocalFilesystem is the FilesystemBackend for the host filesystem.
type LocalFilesystem struct{}

func (LocalFilesystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (LocalFilesystem) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (LocalFilesystem) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
