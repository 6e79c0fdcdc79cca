package fixture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCorpusMissing is returned when the corpus directory does not exist.
	ErrCorpusMissing = errors.New("fixture: corpus directory not found")
	// ErrEmptyCorpus is returned when the corpus holds no fixture files.
	ErrEmptyCorpus = errors.New("fixture: no fixture files found")
)

// Pattern matches fixture files anywhere below the corpus root.
const Pattern = "**/*.log"

// readConcurrency bounds parallel file reads. Parsing order does not affect
// the result order.
const readConcurrency = 8

// Corpus is a set of fixture files read from one root.
type Corpus struct {
	Root    string
	Backend string
	fsys    fs.FS
}

// NewCorpus opens the directory at root. A missing directory is a
// configuration error.
func NewCorpus(root, backend string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrCorpusMissing, root)
	}
	return &Corpus{Root: root, Backend: backend, fsys: os.DirFS(root)}, nil
}

// NewCorpusFS builds a corpus over an arbitrary filesystem (used by tests).
func NewCorpusFS(fsys fs.FS, backend string) *Corpus {
	return &Corpus{Root: ".", Backend: backend, fsys: fsys}
}

// Paths lists fixture files relative to the root in lexical order.
func (c *Corpus) Paths() ([]string, error) {
	matches, err := doublestar.Glob(c.fsys, Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("fixture: glob %s: %w", Pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrEmptyCorpus, c.Root)
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads and parses one file relative to the corpus root.
func (c *Corpus) Load(rel string) (File, error) {
	data, err := fs.ReadFile(c.fsys, rel)
	if err != nil {
		return File{}, fmt.Errorf("fixture: read %s: %w", rel, err)
	}
	f := Parse(string(data), c.Backend)
	f.Path = path.Clean(rel)
	return f, nil
}

// LoadAll reads every fixture file. Files are read concurrently but returned
// in lexical path order.
func (c *Corpus) LoadAll(ctx context.Context) ([]File, error) {
	paths, err := c.Paths()
	if err != nil {
		return nil, err
	}

	files := make([]File, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := c.Load(p)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
