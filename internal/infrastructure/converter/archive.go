package converter

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/mditd/internal/core/domain"
)

const (
	defaultMaxEntrySize = 100 << 20
	defaultMaxEntries   = 1000
)

var errArchiveBudget = errors.New("archive content limit reached")

// zipConverter converts every supported member of an archive one level deep.
// Member names are only used as headings, never as paths. Decompressed bytes
// across all members never exceed maxTotalSize.
type zipConverter struct {
	registry     *Registry
	maxEntrySize int64
	maxTotalSize int64
	maxEntries   int
}

func NewZIPConverter(registry *Registry, maxEntrySize, maxTotalSize int64, maxEntries int) FormatConverter {
	if maxEntrySize <= 0 {
		maxEntrySize = defaultMaxEntrySize
	}
	if maxTotalSize <= 0 {
		maxTotalSize = maxEntrySize
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &zipConverter{
		registry:     registry,
		maxEntrySize: maxEntrySize,
		maxTotalSize: maxTotalSize,
		maxEntries:   maxEntries,
	}
}

func (c *zipConverter) Name() string { return "zip" }

func (c *zipConverter) SupportedExtensions() []string { return []string{".zip"} }

func (c *zipConverter) Convert(ctx context.Context, src Source) (string, error) {
	archive, err := zip.NewReader(src.Reader, src.Size)
	if err != nil {
		return "", invalidInput("convert zip", "Invalid or corrupt ZIP archive", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", src.Name)

	files := countFiles(archive.File)
	seen := 0
	var used int64
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seen++
		if seen > c.maxEntries {
			fmt.Fprintf(&b, "\n_%d more entries not shown_\n", files-c.maxEntries)
			break
		}

		content, n, err := c.convertEntry(ctx, entry, c.maxTotalSize-used)
		used += n
		if errors.Is(err, errArchiveBudget) {
			fmt.Fprintf(&b, "\n_%d more entries not shown: archive content limit reached_\n", files-seen+1)
			break
		}
		fmt.Fprintf(&b, "\n## %s\n\n", entry.Name)
		if err != nil {
			fmt.Fprintf(&b, "_Skipped: %s_\n", domain.PublicMessage(err))
			continue
		}
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// convertEntry reads at most budget bytes and reports how many it consumed.
func (c *zipConverter) convertEntry(ctx context.Context, entry *zip.File, budget int64) (string, int64, error) {
	ext := strings.ToLower(path.Ext(entry.Name))
	converter := c.registry.Lookup(ext)
	if converter == nil || converter.Name() == c.Name() {
		return "", 0, UnsupportedFormat(ext)
	}
	if entry.UncompressedSize64 > uint64(c.maxEntrySize) {
		return "", 0, entryTooLarge()
	}
	if budget <= 0 || entry.UncompressedSize64 > uint64(budget) {
		return "", 0, errArchiveBudget
	}

	rc, err := entry.Open()
	if err != nil {
		return "", 0, invalidInput("convert zip", "Unreadable archive entry", err)
	}
	defer rc.Close()

	// Headers can lie, so the reader is bounded too.
	limit := min(c.maxEntrySize, budget)
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	n := int64(len(data))
	if err != nil {
		return "", n, invalidInput("convert zip", "Unreadable archive entry", err)
	}
	if n > c.maxEntrySize {
		return "", n, entryTooLarge()
	}
	if n > budget {
		return "", n, errArchiveBudget
	}

	content, err := c.registry.convertSource(ctx, converter, Source{
		Name:   path.Base(entry.Name),
		Ext:    ext,
		Reader: bytes.NewReader(data),
		Size:   n,
	})
	return content, n, err
}

func entryTooLarge() error {
	return domain.NewError(domain.ErrValidation, "convert zip", "Archive entry too large", nil)
}

func countFiles(files []*zip.File) int {
	n := 0
	for _, f := range files {
		if !f.FileInfo().IsDir() {
			n++
		}
	}
	return n
}
