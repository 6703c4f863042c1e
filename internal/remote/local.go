package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
)

// LocalClient reads from a local directory with the same semantics as
// the SFTP client. It backs offline/test mode, where no remote target
// is configured.
type LocalClient struct {
	root   string
	logger *pterm.Logger
}

func NewLocalClient(root string, logger *pterm.Logger) *LocalClient {
	return &LocalClient{root: root, logger: logger}
}

func (c *LocalClient) List(ctx context.Context, pattern string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(c.root, pattern))
	if err != nil {
		// Only malformed patterns error; treat as absent path
		c.logger.Warn("Invalid local glob pattern", c.logger.Args("pattern", pattern, "error", err))
		return nil, ErrNotFound
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}

	files := make([]FileInfo, 0, len(matches))
	for _, path := range matches {
		stat, err := os.Stat(path)
		if err != nil || stat.IsDir() {
			continue
		}
		files = append(files, FileInfo{
			Path:    path,
			Name:    filepath.Base(path),
			Size:    stat.Size(),
			ModTime: stat.ModTime(),
		})
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}

	sortByModTime(files)
	return files, nil
}

func (c *LocalClient) Open(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(c.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &ConnError{Op: "open " + path, Err: err}
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, &ConnError{Op: "seek " + path, Err: err}
		}
	}
	return file, nil
}

func (c *LocalClient) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	resolved := c.resolve(path)
	stat, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, &ConnError{Op: "stat " + path, Err: err}
	}
	return FileInfo{
		Path:    resolved,
		Name:    filepath.Base(resolved),
		Size:    stat.Size(),
		ModTime: stat.ModTime(),
	}, nil
}

func (c *LocalClient) Close() error {
	return nil
}

// resolve accepts both root-relative paths and paths List already
// returned (which are rooted).
func (c *LocalClient) resolve(path string) string {
	if filepath.IsAbs(path) || strings.HasPrefix(path, c.root+string(filepath.Separator)) {
		return path
	}
	return filepath.Join(c.root, path)
}
