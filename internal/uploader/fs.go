package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// DefaultDirBatchSize is how many children one directory read returns
const DefaultDirBatchSize = 64

// FileSource is a regular file on an afero filesystem
type FileSource struct {
	fs   afero.Fs
	path string
	name string
	hint string
	size int64
}

// NewFileSource stats path and returns it as a source. hint is the
// relative path the file should be uploaded under, if any.
func NewFileSource(fs afero.Fs, path string, hint string) (*FileSource, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &FileSource{
		fs:   fs,
		path: path,
		name: info.Name(),
		hint: hint,
		size: info.Size(),
	}, nil
}

func (f *FileSource) Name() string             { return f.name }
func (f *FileSource) RelativePathHint() string { return f.hint }
func (f *FileSource) Size() int64              { return f.size }
func (f *FileSource) Path() string             { return f.path }

func (f *FileSource) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

// FSEntry is a node of a directory tree on an afero filesystem. Its full
// path is rooted at the top-level entry, so a dropped folder "photos"
// yields "/photos/a.jpg".
type FSEntry struct {
	fs        afero.Fs
	path      string
	name      string
	fullPath  string
	info      os.FileInfo
	batchSize int
}

// NewFSEntry makes path the root of a dropped tree
func NewFSEntry(fs afero.Fs, path string, batchSize int) (*FSEntry, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if batchSize < 1 {
		batchSize = DefaultDirBatchSize
	}
	name := rootName(path)
	return &FSEntry{
		fs:        fs,
		path:      path,
		name:      name,
		fullPath:  "/" + name,
		info:      info,
		batchSize: batchSize,
	}, nil
}

// rootName is the last element of path with "." and ".." resolved against
// the working directory. A filesystem root has no name.
func rootName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == ".." {
		if abs, err := filepath.Abs(path); err == nil {
			name = filepath.Base(abs)
		}
	}
	if name == string(filepath.Separator) || name == "." || name == ".." {
		return ""
	}
	return name
}

func (e *FSEntry) Name() string     { return e.name }
func (e *FSEntry) FullPath() string { return e.fullPath }
func (e *FSEntry) IsFile() bool     { return e.info.Mode().IsRegular() }
func (e *FSEntry) IsDir() bool      { return e.info.IsDir() }

func (e *FSEntry) File(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.IsFile() {
		return nil, fmt.Errorf("%s is not a regular file", e.path)
	}
	return &FileSource{
		fs:   e.fs,
		path: e.path,
		name: e.info.Name(),
		size: e.info.Size(),
	}, nil
}

func (e *FSEntry) Reader() (DirReader, error) {
	if !e.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", e.path)
	}
	file, err := e.fs.Open(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory %s: %w", e.path, err)
	}
	return &fsDirReader{parent: e, file: file}, nil
}

type fsDirReader struct {
	parent *FSEntry
	mu     sync.Mutex
	file   afero.File
}

// ReadEntries returns the next batch of children and closes the directory
// once the listing is exhausted
func (r *fsDirReader) ReadEntries(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		r.close()
		return nil, err
	}

	infos, err := r.file.Readdir(r.parent.batchSize)
	if err != nil && !errors.Is(err, io.EOF) {
		r.close()
		return nil, err
	}
	if len(infos) == 0 {
		r.close()
		return nil, nil
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, &FSEntry{
			fs:        r.parent.fs,
			path:      filepath.Join(r.parent.path, info.Name()),
			name:      info.Name(),
			fullPath:  r.parent.fullPath + "/" + info.Name(),
			info:      info,
			batchSize: r.parent.batchSize,
		})
	}
	return entries, nil
}

func (r *fsDirReader) close() {
	_ = r.file.Close()
	r.file = nil
}
