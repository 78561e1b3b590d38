// Package imports resolves `// @import path` directives in object scripts
// by depth-first concatenation: dependencies before dependents, each file
// at most once, cycles rejected. Callers cache the result; resolution
// itself is stateless.
package imports

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// importPattern only matches at the start of a line, so a mention of
// @import inside a longer comment is not a directive.
var importPattern = regexp.MustCompile(`(?m)^// @import\s+(\S+)\s*$`)

// LoadFunc loads the raw source bytes for a mudlib path.
type LoadFunc func(ctx context.Context, path string) ([]byte, error)

// Result is the concatenated source plus every file that went into it,
// in inclusion order. Deps drives cache invalidation on reload.
type Result struct {
	Source string
	Deps   []string
}

// Resolve flattens sourcePath and everything it imports into one script.
func Resolve(ctx context.Context, sourcePath string, load LoadFunc) (*Result, error) {
	state := &resolveState{
		inProgress: map[string]bool{},
		included:   map[string]bool{},
		load:       load,
	}
	source, deps, err := state.resolve(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	return &Result{Source: source, Deps: deps}, nil
}

type resolveState struct {
	inProgress map[string]bool
	included   map[string]bool
	load       LoadFunc
}

func (s *resolveState) resolve(ctx context.Context, sourcePath string) (string, []string, error) {
	if s.inProgress[sourcePath] {
		return "", nil, errors.Errorf("circular import detected: %s", sourcePath)
	}
	if s.included[sourcePath] {
		return "", nil, nil
	}
	s.inProgress[sourcePath] = true
	defer delete(s.inProgress, sourcePath)

	sourceBytes, err := s.load(ctx, sourcePath)
	if err != nil {
		return "", nil, errors.Wrapf(err, "loading %s", sourcePath)
	}
	source := string(sourceBytes)

	deps := []string{sourcePath}
	var resolved strings.Builder
	for _, imp := range Parse(source) {
		depSource, depDeps, err := s.resolve(ctx, ResolvePath(sourcePath, imp))
		if err != nil {
			return "", nil, errors.Wrapf(err, "in %s", sourcePath)
		}
		resolved.WriteString(depSource)
		deps = append(deps, depDeps...)
	}
	resolved.WriteString(Strip(source))

	s.included[sourcePath] = true
	return resolved.String(), deps, nil
}

// Parse extracts the import paths declared in source, in order.
func Parse(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, match[1])
	}
	return result
}

// Strip removes all import directive lines from source.
func Strip(source string) string {
	return importPattern.ReplaceAllString(source, "")
}

// ResolvePath resolves an import relative to the importing file. Absolute
// mudlib paths pass through unchanged.
func ResolvePath(fromPath, importPath string) string {
	if strings.HasPrefix(importPath, "/") {
		return importPath
	}
	return path.Clean(path.Join(path.Dir(fromPath), importPath))
}
