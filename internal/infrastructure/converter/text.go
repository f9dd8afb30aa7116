package converter

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type textConverter struct{}

func NewTextConverter() FormatConverter {
	return &textConverter{}
}

func (c *textConverter) Name() string { return "text" }

func (c *textConverter) SupportedExtensions() []string { return []string{".txt"} }

func (c *textConverter) Convert(_ context.Context, src Source) (string, error) {
	text, err := readText(src)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// markdownConverter passes Markdown through unchanged apart from encoding cleanup.
type markdownConverter struct{}

func NewMarkdownConverter() FormatConverter {
	return &markdownConverter{}
}

func (c *markdownConverter) Name() string { return "markdown" }

func (c *markdownConverter) SupportedExtensions() []string { return []string{".md"} }

func (c *markdownConverter) Convert(_ context.Context, src Source) (string, error) {
	return readText(src)
}

// readText returns the source as UTF-8 with the BOM removed and line endings normalized.
func readText(src Source) (string, error) {
	raw, err := src.Bytes()
	if err != nil {
		return "", err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return "", invalidInput("convert text", "File is not valid UTF-8 text", nil)
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return text, nil
}
