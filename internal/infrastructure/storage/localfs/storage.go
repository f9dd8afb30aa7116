package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/mditd/internal/core/domain"
)

const maxCollisionAttempts = 10000

type Options struct {
	ChunkSize   int
	MaxFileSize int64
	MinFileSize int64
	Logger      *slog.Logger
}

// Storage stages uploads and writes Markdown outputs. Names inside one
// directory are reserved under a per-directory lock and committed with O_EXCL.
type Storage struct {
	uploadsDir  string
	chunkSize   int
	maxFileSize int64
	minFileSize int64
	logger      *slog.Logger

	dirLocks sync.Map // dir -> *sync.Mutex
}

func New(uploadsDir string, opts Options) (*Storage, error) {
	if uploadsDir == "" {
		uploadsDir = "./uploads"
	}
	abs, err := filepath.Abs(uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}
	if opts.MinFileSize < 0 {
		opts.MinFileSize = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Storage{
		uploadsDir:  abs,
		chunkSize:   opts.ChunkSize,
		maxFileSize: opts.MaxFileSize,
		minFileSize: opts.MinFileSize,
		logger:      opts.Logger,
	}, nil
}

func (s *Storage) UploadsDir() string {
	return s.uploadsDir
}

// Stage streams one upload to the uploads directory under a sanitized, unique name.
func (s *Storage) Stage(ctx context.Context, item domain.UploadItem) (domain.StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.StagedFile{}, err
	}
	if item.Open == nil {
		return domain.StagedFile{}, domain.NewError(domain.ErrStorage, "stage upload", "Failed to read uploaded file", errors.New("upload has no content"))
	}

	src, err := item.Open()
	if err != nil {
		return domain.StagedFile{}, domain.NewError(domain.ErrStorage, "stage upload", "Failed to read uploaded file", err)
	}
	defer src.Close()

	f, path, err := s.createUnique(s.uploadsDir, s.StagedName(item.Filename))
	if err != nil {
		return domain.StagedFile{}, domain.NewError(domain.ErrStorage, "stage upload", "Failed to store uploaded file", err)
	}

	n, copyErr := s.copyBounded(f, src)
	closeErr := f.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = domain.NewError(domain.ErrStorage, "stage upload", "Failed to store uploaded file", closeErr)
	}
	if copyErr == nil && n < s.minFileSize {
		copyErr = s.tooSmall()
	}
	if copyErr != nil {
		s.remove(path)
		return domain.StagedFile{}, copyErr
	}

	return domain.StagedFile{Filename: filepath.Base(path), Path: path, Size: n}, nil
}

func (s *Storage) copyBounded(dst io.Writer, src io.Reader) (int64, error) {
	reader := src
	if s.maxFileSize > 0 {
		reader = io.LimitReader(src, s.maxFileSize+1)
	}
	buf := make([]byte, s.chunkSize)
	// Hide ReadFrom so the copy goes through buf in ChunkSize steps.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, reader, buf)
	if err != nil {
		return n, domain.NewError(domain.ErrStorage, "stage upload", "Failed to store uploaded file", err)
	}
	if s.maxFileSize > 0 && n > s.maxFileSize {
		return n, domain.NewError(domain.ErrValidation, "stage upload",
			fmt.Sprintf("File too large (max %s)", formatSize(s.maxFileSize)), nil)
	}
	return n, nil
}

func (s *Storage) tooSmall() error {
	if s.minFileSize <= 1 {
		return domain.NewError(domain.ErrValidation, "stage upload", "File is empty", nil)
	}
	return domain.NewError(domain.ErrValidation, "stage upload",
		fmt.Sprintf("File too small (min %d bytes)", s.minFileSize), nil)
}

func (s *Storage) StagedName(originalFilename string) string {
	return Sanitize(originalFilename)
}

func (s *Storage) OutputName(originalFilename string) string {
	return OutputFilename(originalFilename)
}

// Persist writes content as <stem>.md into target, never replacing an existing file.
func (s *Storage) Persist(ctx context.Context, content, originalFilename string, target domain.OutputTarget) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, path, err := s.createUnique(target.Path, OutputFilename(originalFilename))
	if err != nil {
		return "", domain.NewError(domain.ErrStorage, "persist output", "Failed to save output file", err)
	}

	_, writeErr := io.WriteString(f, content)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		s.remove(path)
		return "", domain.NewError(domain.ErrStorage, "persist output", "Failed to save output file", writeErr)
	}
	return path, nil
}

// Discard removes a staged upload. Failures are logged, never returned.
func (s *Storage) Discard(staged domain.StagedFile) {
	if staged.Path == "" {
		return
	}
	if !within(s.uploadsDir, staged.Path) {
		s.logger.Warn("temp_cleanup_skipped", "path", staged.Path, "reason", "outside uploads dir")
		return
	}
	s.remove(staged.Path)
}

func (s *Storage) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("temp_cleanup_failed", "path", path, "error", err)
	}
}

// ListOutputs returns the Markdown files in target sorted by name.
// A directory that does not exist yet has no outputs.
func (s *Storage) ListOutputs(target domain.OutputTarget) ([]domain.OutputFile, error) {
	entries, err := os.ReadDir(target.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.OutputFile{}, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.ErrStorage, "list outputs", "Failed to list output directory", err)
	}

	files := make([]domain.OutputFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, domain.OutputFile{
			Name:       entry.Name(),
			Size:       info.Size(),
			Extension:  ext,
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (s *Storage) createUnique(dir, name string) (*os.File, string, error) {
	mu := s.lockFor(dir)
	mu.Lock()
	defer mu.Unlock()

	for i := 0; i < maxCollisionAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = withSuffix(name, i)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, "", err
	}
	return nil, "", fmt.Errorf("no free name for %q in %s", name, dir)
}

func (s *Storage) lockFor(dir string) *sync.Mutex {
	mu, _ := s.dirLocks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func formatSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
