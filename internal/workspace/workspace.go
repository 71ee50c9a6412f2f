// Package workspace manages per-request scratch directories on local disk.
//
// Every request acquires its own directory under a shared root, writes its
// uploads and the engine output there, and removes the whole directory when
// the response has been written. No two workspaces share a directory or a
// file.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/wmstudio/internal/observability"
)

const (
	// dirPrefix marks directories owned by a Manager so Sweep never touches
	// anything else under the root.
	dirPrefix = "ws-"
	inputDir  = "in"
	outputDir = "out"
)

var (
	// ErrInvalidName is returned when an upload or output name has no usable
	// base name.
	ErrInvalidName = errors.New("invalid file name")
	// ErrReleased is returned when a released workspace is used again.
	ErrReleased = errors.New("workspace already released")
)

// Upload is an uploaded file waiting to be written into a workspace.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Manager creates workspaces under a root directory.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager creates a Manager rooted at root.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "wmstudio")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	return &Manager{root: root, now: time.Now}, nil
}

// Root returns the directory workspaces are created under.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, uniquely named workspace.
// The caller must call Release once the workspace is no longer needed.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir := filepath.Join(m.root, dirPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	for _, sub := range []string{inputDir, outputDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0700); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	observability.ActiveWorkspaces.Inc()
	return &Workspace{dir: dir, createdAt: m.now(), names: make(map[string]struct{})}, nil
}

// Sweep removes workspaces last modified more than olderThan ago. They are
// left behind only when a previous process died mid-request.
// It continues past individual failures, returning the number removed and
// the first error encountered.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0
	var firstErr error
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return removed, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove stale workspace %s: %w", e.Name(), err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// Workspace is a scratch directory exclusively owned by one request.
type Workspace struct {
	dir       string
	createdAt time.Time

	mu       sync.Mutex
	names    map[string]struct{}
	inputs   []string
	output   string
	released bool
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// CreatedAt returns when the workspace was acquired.
func (w *Workspace) CreatedAt() time.Time {
	return w.createdAt
}

// Inputs returns the paths of the materialized uploads, in order.
func (w *Workspace) Inputs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.inputs...)
}

// Output returns the path handed out by OutputPath, or "".
func (w *Workspace) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.output
}

// Materialize writes u into the workspace and returns its path. The file
// keeps the base name of u.Filename; a second upload with the same name gets
// an index prefix.
func (w *Workspace) Materialize(ctx context.Context, u Upload) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	name, err := SanitizeName(u.Filename)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return "", ErrReleased
	}

	unique := name
	for i := 1; ; i++ {
		if _, taken := w.names[unique]; !taken {
			break
		}
		unique = strconv.Itoa(i) + "_" + name
	}

	path := filepath.Join(w.dir, inputDir, unique)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 - name is sanitized to a base name
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(f, u.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	w.names[unique] = struct{}{}
	w.inputs = append(w.inputs, path)
	return path, nil
}

// OutputPath returns the path the engine should write to, named
// "<prefix>_<original>". Outputs live apart from inputs so the two never
// collide.
func (w *Workspace) OutputPath(prefix, original string) (string, error) {
	name, err := SanitizeName(original)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return "", ErrReleased
	}

	w.output = filepath.Join(w.dir, outputDir, OutputName(prefix, name))
	return w.output, nil
}

// Release removes the workspace and everything in it. It is safe to call
// more than once; only the first successful call does any work.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}

	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}

	w.released = true
	observability.ActiveWorkspaces.Dec()
	return nil
}

// OutputName joins prefix and the already sanitized name.
func OutputName(prefix, name string) string {
	return prefix + "_" + name
}

// SanitizeName reduces a client-supplied file name to a safe base name.
// Both slash styles are treated as separators so "C:\clips\a.mp4" becomes
// "a.mp4".
func SanitizeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, c := range base {
		if c < 0x20 || c == 0x7f {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return base, nil
}
