package converter

import (
	"context"
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

// htmlConverter sanitizes HTML before converting it, so scripts and event
// handlers never reach the Markdown output.
type htmlConverter struct {
	policy    *bluemonday.Policy
	converter *md.Converter
}

func NewHTMLConverter() FormatConverter {
	policy := bluemonday.UGCPolicy()
	policy.AllowDataURIImages()

	return &htmlConverter{
		policy:    policy,
		converter: md.NewConverter("", true, nil),
	}
}

func (c *htmlConverter) Name() string { return "html" }

func (c *htmlConverter) SupportedExtensions() []string { return []string{".html", ".htm"} }

func (c *htmlConverter) Convert(_ context.Context, src Source) (string, error) {
	raw, err := src.Bytes()
	if err != nil {
		return "", err
	}

	sanitized := c.policy.SanitizeBytes(raw)
	markdown, err := c.converter.ConvertString(string(sanitized))
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return markdown, nil
}
