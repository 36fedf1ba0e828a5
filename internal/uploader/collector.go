package uploader

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parnexcodes/droppush/internal/logging"
)

// Collector flattens selections and dropped trees into upload candidates
type Collector struct {
	concurrency int64
}

// NewCollector creates a collector that performs at most concurrency
// directory reads or file lookups at a time
func NewCollector(concurrency int) *Collector {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{concurrency: int64(concurrency)}
}

// CollectSelection maps a flat selection to candidates. The relpath is the
// source's relative-path hint, or its bare name when there is none.
func (c *Collector) CollectSelection(sources []Source) []Candidate {
	candidates := make([]Candidate, 0, len(sources))
	for _, source := range sources {
		if source == nil {
			continue
		}
		relpath := NormalizeRelpath(source.RelativePathHint())
		if relpath == "" {
			relpath = source.Name()
		}
		logging.FileFound(relpath, source.Size())
		candidates = append(candidates, Candidate{Source: source, Relpath: relpath})
	}
	return candidates
}

// CollectDrop walks dropped entries depth-first and returns every file found,
// in discovery order. Entries that can't be resolved or listed are skipped;
// the only error returned is cancellation of ctx.
func (c *Collector) CollectDrop(ctx context.Context, entries []Entry) ([]Candidate, error) {
	sem := semaphore.NewWeighted(c.concurrency)
	candidates, err := c.collectEntries(ctx, sem, entries)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// collectEntries resolves siblings concurrently and joins their results in
// sibling order
func (c *Collector) collectEntries(ctx context.Context, sem *semaphore.Weighted, entries []Entry) ([]Candidate, error) {
	results := make([][]Candidate, len(entries))
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range entries {
		if entry == nil {
			continue
		}
		g.Go(func() error {
			found, err := c.collectEntry(gctx, sem, entry)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, found := range results {
		candidates = append(candidates, found...)
	}
	return candidates, nil
}

func (c *Collector) collectEntry(ctx context.Context, sem *semaphore.Weighted, entry Entry) ([]Candidate, error) {
	switch {
	case entry.IsFile():
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		source, err := entry.File(ctx)
		sem.Release(1)
		if err != nil {
			logging.EntrySkipped(entry.FullPath(), "file unavailable", err)
			return nil, ctx.Err()
		}

		relpath := NormalizeRelpath(entry.FullPath())
		if relpath == "" {
			relpath = NormalizeRelpath(source.RelativePathHint())
		}
		if relpath == "" {
			relpath = source.Name()
		}
		logging.FileFound(relpath, source.Size())
		return []Candidate{{Source: source, Relpath: relpath}}, nil

	case entry.IsDir():
		children, err := c.readAll(ctx, sem, entry)
		if err != nil {
			logging.EntrySkipped(entry.FullPath(), "directory unreadable", err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if len(children) == 0 {
				return nil, nil
			}
		}
		return c.collectEntries(ctx, sem, children)

	default:
		logging.EntrySkipped(entry.FullPath(), "neither file nor directory", nil)
		return nil, nil
	}
}

// readAll keeps reading batches until the reader returns an empty one.
// Children read before a failing batch are kept.
func (c *Collector) readAll(ctx context.Context, sem *semaphore.Weighted, entry Entry) ([]Entry, error) {
	reader, err := entry.Reader()
	if err != nil {
		return nil, err
	}

	var children []Entry
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return children, err
		}
		batch, err := reader.ReadEntries(ctx)
		sem.Release(1)
		if err != nil {
			return children, err
		}
		if len(batch) == 0 {
			return children, nil
		}
		children = append(children, batch...)
	}
}

// NormalizeRelpath converts separators to forward slashes and strips
// leading slashes
func NormalizeRelpath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimLeft(path, "/")
}
