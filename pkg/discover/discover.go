// Package discover locates tracker files across a shared data tree and
// summarizes their on-disk state.
//
// Operators point it at a processed-data root with a glob pattern; every
// match whose file name is a recognized tracker kind is opened (under its
// companion lock) and reported. This backs the status CLI and the HTTP
// status API.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mesolab/batchkeeper/pkg/statefile"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

// DefaultPattern matches every tracker-shaped YAML file under the root.
const DefaultPattern = "**/*.yaml"

// Summary is one discovered tracker and its current snapshot.
type Summary struct {
	// Path is the tracker file's absolute path.
	Path string

	// Kind is the pipeline category derived from the file name.
	Kind tracker.Kind

	// State is the snapshot read at scan time.
	State tracker.State
}

// Scan walks root for tracker files matching pattern (doublestar glob,
// relative to root; empty means DefaultPattern). Matches whose base name is
// not a recognized tracker kind are skipped silently, so the pattern may be
// as loose as "**/*.yaml" over a tree that also holds other YAML documents.
func Scan(root, pattern string, opts ...tracker.Option) ([]Summary, error) {
	if root == "" {
		return nil, fmt.Errorf("scan root is required")
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}

	var out []Summary
	err = doublestar.GlobWalk(os.DirFS(absRoot), pattern, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, statefile.LockSuffix) {
			return nil
		}
		kind, err := tracker.ParseKind(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil
		}
		path := filepath.Join(absRoot, filepath.FromSlash(rel))
		st, err := tracker.New(path, opts...).Peek()
		if err != nil {
			return fmt.Errorf("read tracker %s: %w", path, err)
		}
		out = append(out, Summary{Path: path, Kind: kind, State: st})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
