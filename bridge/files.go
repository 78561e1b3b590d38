package bridge

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/duskmud/driver"
	"github.com/pkg/errors"
)

// ErrPathEscape marks a path that would resolve outside the mudlib
// root. It is raised before any filesystem call is made.
var ErrPathEscape = errors.New("path escapes mudlib root")

// FileInfo is the stat result scripts see.
type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Dir     bool   `json:"dir"`
	ModTime int64  `json:"modTime"`
}

// resolvePath maps a mudlib-absolute path to a real path under the
// root. Anything that climbs out, including via .., Windows volume
// names, or backslash tricks, fails with ErrPathEscape before any
// filesystem call. Escapes are detected on the raw segments; cleaning
// first would clamp ".." at the root and silently resolve them.
var volumePattern = regexp.MustCompile(`^[A-Za-z]:`)

func (b *Bridge) resolvePath(mudlibPath string) (string, error) {
	if volumePattern.MatchString(mudlibPath) {
		return "", errors.WithStack(ErrPathEscape)
	}
	slashed := strings.ReplaceAll(mudlibPath, "\\", "/")
	depth := 0
	for _, segment := range strings.Split(slashed, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", errors.WithStack(ErrPathEscape)
			}
		default:
			depth++
		}
	}
	cleaned := path.Clean("/" + slashed)
	full := filepath.Join(b.opts.MudlibDir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	root := filepath.Clean(b.opts.MudlibDir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errors.WithStack(ErrPathEscape)
	}
	return full, nil
}

// checkWrite runs a write through the permissions guard using the
// run context's player as actor. A denied write never reaches the
// filesystem.
func (b *Bridge) checkWrite(ctx context.Context, mudlibPath string) error {
	current := FromContext(ctx)
	decision := b.guard.CanWrite(current.Player, path.Clean("/"+mudlibPath))
	if !decision.Allowed {
		return errors.Errorf("write to %s denied: %s", mudlibPath, decision.Reason)
	}
	return nil
}

func (b *Bridge) ReadFile(mudlibPath string) ([]byte, error) {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	return content, nil
}

func (b *Bridge) WriteFile(ctx context.Context, mudlibPath string, content []byte) error {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return err
	}
	if err := b.checkWrite(ctx, mudlibPath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return driver.WithStack(err)
	}
	return driver.WithStack(os.WriteFile(full, content, 0o644))
}

func (b *Bridge) FileExists(mudlibPath string) (bool, error) {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, driver.WithStack(err)
	}
	return true, nil
}

func (b *Bridge) ReadDir(mudlibPath string) ([]FileInfo, error) {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	result := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, driver.WithStack(err)
		}
		result = append(result, FileInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			Dir:     entry.IsDir(),
			ModTime: info.ModTime().UnixMilli(),
		})
	}
	return result, nil
}

func (b *Bridge) FileStat(mudlibPath string) (*FileInfo, error) {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	return &FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		Dir:     info.IsDir(),
		ModTime: info.ModTime().UnixMilli(),
	}, nil
}

// MoveFile renames a file within the mudlib. Both ends are traversal
// checked and the destination is write checked.
func (b *Bridge) MoveFile(ctx context.Context, fromPath, toPath string) error {
	from, err := b.resolvePath(fromPath)
	if err != nil {
		return err
	}
	to, err := b.resolvePath(toPath)
	if err != nil {
		return err
	}
	if err := b.checkWrite(ctx, fromPath); err != nil {
		return err
	}
	if err := b.checkWrite(ctx, toPath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return driver.WithStack(err)
	}
	return driver.WithStack(os.Rename(from, to))
}

func (b *Bridge) DeleteFile(ctx context.Context, mudlibPath string) error {
	full, err := b.resolvePath(mudlibPath)
	if err != nil {
		return err
	}
	if err := b.checkWrite(ctx, mudlibPath); err != nil {
		return err
	}
	return driver.WithStack(os.Remove(full))
}
