package rpc

import (
	"io"
	"io/fs"
	"os"
)

// File is an open file handlers read chunks from.
type File interface {
	io.ReaderAt
	io.Closer
}

// FileSystem is the host filesystem as seen by request handlers.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (File, error)
	MkdirAll(path string, perm fs.FileMode) error
	WriteFile(name string, data []byte, perm fs.FileMode) error
}

// OSFileSystem is the FileSystem backed by package os.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (OSFileSystem) Open(name string) (File, error) { return os.Open(name) }

func (OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}
