// Package workspace writes generated files into the project tree.
//
// Every artifact path is validated before writing: it must be relative,
// must stay inside the project root after cleaning, and must match one of
// the configured allowlist patterns. Rejections are typed so callers can
// skip a bad path without aborting a whole generation.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"gamesmith/pkg/config"
	"gamesmith/pkg/logx"
)

// ErrPathRejected marks paths refused by validation or the allowlist.
// Errors not matching it are real I/O failures.
var ErrPathRejected = errors.New("path rejected")

// Writer performs validated writes under a single project root.
type Writer struct {
	logger   *logx.Logger
	root     string
	patterns []string
}

// NewWriter creates a writer rooted at root. With no patterns the default
// allowlist from the workspace configuration applies.
func NewWriter(root string, patterns []string) (*Writer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	if len(patterns) == 0 {
		patterns = config.DefaultAllowedPatterns
	}
	return &Writer{
		root:     abs,
		patterns: append([]string{}, patterns...),
		logger:   logx.NewLogger("workspace"),
	}, nil
}

// Root returns the absolute project root.
func (w *Writer) Root() string {
	return w.root
}

// CleanPath normalizes a declared artifact path and rejects anything that
// is absolute or escapes the project root.
func (w *Writer) CleanPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathRejected)
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("%w: null byte in path", ErrPathRejected)
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathRejected, path)
	}

	clean := filepath.Clean(path)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path %q escapes the project root", ErrPathRejected, path)
	}

	// The engine's own directory holds config, secrets, and the run database.
	// Generated files never go there, whatever the allowlist says.
	if clean == config.ProjectConfigDir || strings.HasPrefix(clean, config.ProjectConfigDir+"/") {
		return "", fmt.Errorf("%w: path %q targets the %s directory", ErrPathRejected, path, config.ProjectConfigDir)
	}

	return clean, nil
}

// Allowed reports whether a cleaned relative path matches the allowlist.
func (w *Writer) Allowed(rel string) bool {
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// WriteFile validates path, creates parent directories, and writes content.
// It returns the absolute destination and the number of bytes written.
func (w *Writer) WriteFile(path, content string) (string, int, error) {
	rel, err := w.CleanPath(path)
	if err != nil {
		return "", 0, err
	}
	if !w.Allowed(rel) {
		return "", 0, fmt.Errorf("%w: %q matches no allowed pattern", ErrPathRejected, path)
	}

	dest := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create directories for %s: %w", rel, err)
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to write %s: %w", rel, err)
	}

	w.logger.Debug("📝 Wrote %s (%d bytes)", rel, len(content))
	return dest, len(content), nil
}
