package localfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kirillkom/mditd/internal/core/domain"
)

var outputDirCharset = regexp.MustCompile(`^[^\\:*?"<>|\x00-\x1f\x7f]*$`)

// Resolver maps a requested output directory onto a real directory below root.
type Resolver struct {
	root       string
	defaultDir string
	maxLength  int
	reserved   []string
}

func NewResolver(root, defaultDir string, maxLength int) (*Resolver, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create project root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if maxLength <= 0 {
		maxLength = 100
	}
	return &Resolver{root: real, defaultDir: defaultDir, maxLength: maxLength}, nil
}

func (r *Resolver) Root() string {
	return r.root
}

// Reserve excludes dir and everything below it from output targets.
// Call it before the resolver is shared.
func (r *Resolver) Reserve(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", dir, err)
	}
	real, err := resolveExisting(filepath.Clean(abs))
	if err != nil {
		return fmt.Errorf("reserve %s: %w", dir, err)
	}
	r.reserved = append(r.reserved, real)
	return nil
}

// ResolveOutputDir validates requested and creates the directory with its parents.
func (r *Resolver) ResolveOutputDir(requested string) (domain.OutputTarget, error) {
	target, err := r.resolve(requested)
	if err != nil {
		return domain.OutputTarget{}, err
	}
	if err := os.MkdirAll(target.Path, 0o755); err != nil {
		return domain.OutputTarget{}, domain.NewError(domain.ErrStorage, "resolve output dir", "Failed to create output directory", err)
	}

	// Something may have swapped a component for a symlink since resolve.
	real, err := filepath.EvalSymlinks(target.Path)
	if err != nil {
		return domain.OutputTarget{}, domain.NewError(domain.ErrStorage, "resolve output dir", "Failed to create output directory", err)
	}
	if !within(r.root, real) {
		return domain.OutputTarget{}, escapeError(requested)
	}
	target.Path = real
	return target, nil
}

// LookupOutputDir applies the same rules as ResolveOutputDir without touching the disk.
func (r *Resolver) LookupOutputDir(requested string) (domain.OutputTarget, error) {
	return r.resolve(requested)
}

func (r *Resolver) resolve(requested string) (domain.OutputTarget, error) {
	req := strings.TrimSpace(requested)
	if req == "" {
		req = r.defaultDir
	}

	err := validation.Validate(req,
		validation.Required.Error("output directory is required"),
		validation.Length(1, r.maxLength).Error(fmt.Sprintf("too long (max %d characters)", r.maxLength)),
		validation.Match(outputDirCharset).Error("contains forbidden characters"),
	)
	if err != nil {
		return domain.OutputTarget{}, domain.NewError(domain.ErrValidation, "resolve output dir",
			"Invalid output directory: "+err.Error(), err)
	}

	candidate := req
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.root, candidate)
	}
	resolved, err := resolveExisting(filepath.Clean(candidate))
	if err != nil {
		return domain.OutputTarget{}, domain.NewError(domain.ErrStorage, "resolve output dir", "Failed to resolve output directory", err)
	}
	if !within(r.root, resolved) {
		return domain.OutputTarget{}, escapeError(requested)
	}

	for _, dir := range r.reserved {
		if within(dir, resolved) {
			return domain.OutputTarget{}, domain.NewError(domain.ErrValidation, "resolve output dir",
				"Invalid output directory: reserved for uploads", nil)
		}
	}

	rel, _ := filepath.Rel(r.root, resolved)
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if segment != "." && strings.HasPrefix(segment, ".") {
			return domain.OutputTarget{}, domain.NewError(domain.ErrValidation, "resolve output dir",
				"Invalid output directory: Cannot start with dot", nil)
		}
	}

	return domain.OutputTarget{Requested: req, Path: resolved}, nil
}

// resolveExisting follows symlinks in the longest existing prefix of path
// and appends the components that do not exist yet.
func resolveExisting(path string) (string, error) {
	var missing []string
	current := path
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{real}, missing...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		current = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func escapeError(requested string) error {
	return domain.NewError(domain.ErrPathEscape, "resolve output dir",
		"Invalid output directory: path escapes the project root",
		fmt.Errorf("requested %q", requested))
}
