package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parnexcodes/droppush/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(false, os.Stderr)
	os.Exit(m.Run())
}

// fakeEntry is a hand-built tree node with controllable failures
type fakeEntry struct {
	name      string
	fullPath  string
	size      int64
	dir       bool
	children  []Entry
	batchSize int
	fileErr   error
	readerErr error
	readErrAt int // fail the read at this batch index when > 0
}

func (f *fakeEntry) Name() string     { return f.name }
func (f *fakeEntry) FullPath() string { return f.fullPath }
func (f *fakeEntry) IsFile() bool     { return !f.dir }
func (f *fakeEntry) IsDir() bool      { return f.dir }

func (f *fakeEntry) File(ctx context.Context) (Source, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	return &memSource{name: f.name, content: make([]byte, f.size)}, nil
}

func (f *fakeEntry) Reader() (DirReader, error) {
	if f.readerErr != nil {
		return nil, f.readerErr
	}
	return &fakeDirReader{entry: f}, nil
}

type fakeDirReader struct {
	entry *fakeEntry
	calls int
	pos   int
}

func (r *fakeDirReader) ReadEntries(ctx context.Context) ([]Entry, error) {
	r.calls++
	if r.entry.readErrAt > 0 && r.calls == r.entry.readErrAt {
		return nil, errors.New("listing failed")
	}
	batch := r.entry.batchSize
	if batch < 1 {
		batch = len(r.entry.children)
	}
	end := r.pos + batch
	if end > len(r.entry.children) {
		end = len(r.entry.children)
	}
	out := r.entry.children[r.pos:end]
	r.pos = end
	return out, nil
}

func file(parent, name string, size int64) *fakeEntry {
	return &fakeEntry{name: name, fullPath: parent + "/" + name, size: size}
}

func relpaths(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Relpath)
	}
	return out
}

func TestCollectSelection(t *testing.T) {
	c := NewCollector(4)
	candidates := c.CollectSelection([]Source{
		&memSource{name: "a.txt", content: []byte("a")},
		&memSource{name: "b.txt", hint: "folder/b.txt", content: []byte("b")},
		nil,
	})

	assert.Equal(t, []string{"a.txt", "folder/b.txt"}, relpaths(candidates))
}

func TestCollectDrop_PreservesDiscoveryOrderAcrossBatches(t *testing.T) {
	photos := &fakeEntry{
		name: "photos", fullPath: "/photos", dir: true, batchSize: 2,
		children: []Entry{
			file("/photos", "1.jpg", 10),
			file("/photos", "2.jpg", 20),
			&fakeEntry{
				name: "raw", fullPath: "/photos/raw", dir: true, batchSize: 1,
				children: []Entry{
					file("/photos/raw", "1.cr2", 100),
					file("/photos/raw", "2.cr2", 200),
				},
			},
			file("/photos", "3.jpg", 30),
			file("/photos", "4.jpg", 40),
		},
	}

	c := NewCollector(2)
	candidates, err := c.CollectDrop(context.Background(), []Entry{
		file("", "notes.txt", 5),
		photos,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"notes.txt",
		"photos/1.jpg",
		"photos/2.jpg",
		"photos/raw/1.cr2",
		"photos/raw/2.cr2",
		"photos/3.jpg",
		"photos/4.jpg",
	}, relpaths(candidates))
}

func TestCollectDrop_SkipsUnreadableEntries(t *testing.T) {
	broken := file("/docs", "broken.txt", 1)
	broken.fileErr = errors.New("permission denied")

	partial := &fakeEntry{
		name: "partial", fullPath: "/docs/partial", dir: true, batchSize: 1, readErrAt: 2,
		children: []Entry{
			file("/docs/partial", "first.txt", 1),
			file("/docs/partial", "second.txt", 1),
		},
	}

	docs := &fakeEntry{
		name: "docs", fullPath: "/docs", dir: true,
		children: []Entry{
			broken,
			file("/docs", "ok.txt", 2),
			&fakeEntry{name: "locked", fullPath: "/docs/locked", dir: true, readerErr: errors.New("denied")},
			partial,
		},
	}

	c := NewCollector(4)
	candidates, err := c.CollectDrop(context.Background(), []Entry{docs})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/ok.txt", "docs/partial/first.txt"}, relpaths(candidates))
}

func TestCollectDrop_EmptyDirectory(t *testing.T) {
	c := NewCollector(1)
	candidates, err := c.CollectDrop(context.Background(), []Entry{
		&fakeEntry{name: "empty", fullPath: "/empty", dir: true},
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCollectDrop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCollector(1)
	_, err := c.CollectDrop(ctx, []Entry{
		&fakeEntry{name: "dir", fullPath: "/dir", dir: true, children: []Entry{file("/dir", "a", 1)}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectDrop_AferoTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/user/album/a.jpg", []byte("aaa"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/user/album/b.jpg", []byte("bb"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/user/album/c.jpg", []byte("c"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/user/album/trip/d.jpg", []byte("dddd"), 0o644))
	require.NoError(t, fs.MkdirAll("/home/user/album/empty", 0o755))

	root, err := NewFSEntry(fs, "/home/user/album", 2)
	require.NoError(t, err)
	assert.Equal(t, "/album", root.FullPath())

	c := NewCollector(3)
	candidates, err := c.CollectDrop(context.Background(), []Entry{root})
	require.NoError(t, err)

	assert.Equal(t, []string{"album/a.jpg", "album/b.jpg", "album/c.jpg", "album/trip/d.jpg"}, relpaths(candidates))
	assert.Equal(t, int64(4), candidates[3].Source.Size())

	reader, err := candidates[0].Source.Open()
	require.NoError(t, err)
	defer reader.Close()
	content, err := afero.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), content)
}

func TestNewFileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/report.pdf", []byte("pdf"), 0o644))

	source, err := NewFileSource(fs, "/data/report.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", source.Name())
	assert.Equal(t, int64(3), source.Size())

	_, err = NewFileSource(fs, "/data", "")
	assert.Error(t, err)

	_, err = NewFileSource(fs, "/missing", "")
	assert.Error(t, err)
}

func TestCollectDrop_DotRootsUseFolderName(t *testing.T) {
	base := t.TempDir()
	photos := filepath.Join(base, "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(photos, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(photos, "a.txt"), []byte("a"), 0o644))

	fs := afero.NewOsFs()
	c := NewCollector(2)

	tests := []struct {
		name string
		cwd  string
		root string
	}{
		{"current directory", photos, "."},
		{"parent directory", filepath.Join(photos, "sub"), ".."},
		{"relative with dot", base, "./photos/."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(tt.cwd)

			root, err := NewFSEntry(fs, tt.root, 8)
			require.NoError(t, err)
			assert.Equal(t, "photos", root.Name())
			assert.Equal(t, "/photos", root.FullPath())

			candidates, err := c.CollectDrop(context.Background(), []Entry{root})
			require.NoError(t, err)
			assert.Equal(t, []string{"photos/a.txt"}, relpaths(candidates))
		})
	}
}
