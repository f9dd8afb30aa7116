package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/mditd/internal/core/domain"
)

// Source is one input document. Reader covers exactly Size bytes.
type Source struct {
	Name   string
	Ext    string
	Reader io.ReaderAt
	Size   int64
}

func (s Source) Bytes() ([]byte, error) {
	return io.ReadAll(io.NewSectionReader(s.Reader, 0, s.Size))
}

// FormatConverter turns one family of formats into Markdown.
type FormatConverter interface {
	Name() string
	SupportedExtensions() []string
	Convert(ctx context.Context, src Source) (string, error)
}

type Options struct {
	// MaxArchiveEntrySize bounds a single decompressed archive member.
	MaxArchiveEntrySize int64
	// MaxArchiveTotalSize bounds decompressed bytes across all members.
	// Defaults to MaxArchiveEntrySize.
	MaxArchiveTotalSize int64
	MaxArchiveEntries   int
}

// Registry routes files to converters by extension. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]FormatConverter
}

// NewRegistry returns a registry with every built-in format registered.
func NewRegistry(opts Options) *Registry {
	r := &Registry{converters: make(map[string]FormatConverter)}

	r.Register(NewTextConverter())
	r.Register(NewMarkdownConverter())
	r.Register(NewHTMLConverter())
	r.Register(NewCSVConverter())
	r.Register(NewJSONConverter())
	r.Register(NewXMLConverter())
	r.Register(NewPDFConverter())
	r.Register(NewXLSXConverter())
	r.Register(NewDOCXConverter())
	r.Register(NewPPTXConverter())
	r.Register(NewImageConverter())
	r.Register(NewAudioConverter())
	r.Register(NewZIPConverter(r, opts.MaxArchiveEntrySize, opts.MaxArchiveTotalSize, opts.MaxArchiveEntries))

	return r
}

// Register associates converter with its extensions, normalized to lower case with a leading dot.
func (r *Registry) Register(converter FormatConverter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range converter.SupportedExtensions() {
		r.converters[normalizeExt(ext)] = converter
	}
}

func (r *Registry) Lookup(ext string) FormatConverter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.converters[normalizeExt(ext)]
}

func (r *Registry) Supports(filename string) bool {
	return r.Lookup(filepath.Ext(filename)) != nil
}

// SupportedExtensions returns the allowlist sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.converters))
	for ext := range r.converters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Convert reads the file at path and converts it by extension.
func (r *Registry) Convert(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	converter := r.Lookup(ext)
	if converter == nil {
		return "", UnsupportedFormat(ext)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.NewError(domain.ErrConversion, "convert", "File not found", err)
	}
	if err != nil {
		return "", domain.NewError(domain.ErrConversion, "convert", "Failed to read file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", domain.NewError(domain.ErrConversion, "convert", "Failed to read file", err)
	}

	return r.convertSource(ctx, converter, Source{
		Name:   filepath.Base(path),
		Ext:    ext,
		Reader: f,
		Size:   info.Size(),
	})
}

func (r *Registry) convertSource(ctx context.Context, converter FormatConverter, src Source) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = domain.NewError(domain.ErrConversion, "convert "+converter.Name(),
				conversionFailed(src.Ext), fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
		}
	}()

	out, err = converter.Convert(ctx, src)
	if err == nil {
		return out, nil
	}
	var classified *domain.Error
	if errors.As(err, &classified) {
		return "", err
	}
	return "", domain.NewError(domain.ErrConversion, "convert "+converter.Name(), conversionFailed(src.Ext), err)
}

func UnsupportedFormat(ext string) error {
	return domain.NewError(domain.ErrUnsupportedFormat, "convert", "Unsupported file format: "+ext, nil)
}

func conversionFailed(ext string) string {
	return "Conversion failed: unreadable or corrupt " + strings.TrimPrefix(ext, ".") + " file"
}

func invalidInput(op, public string, cause error) error {
	return domain.NewError(domain.ErrConversion, op, public, cause)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
