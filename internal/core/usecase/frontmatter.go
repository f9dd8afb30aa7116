package usecase

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type frontmatter struct {
	Source      string    `yaml:"source"`
	Format      string    `yaml:"format"`
	BatchID     string    `yaml:"batch_id"`
	ConvertedAt time.Time `yaml:"converted_at"`
}

// withFrontmatter prepends a YAML metadata block to the converted Markdown.
func withFrontmatter(content string, meta frontmatter) (string, error) {
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.Grow(len(raw) + len(content) + 8)
	b.WriteString("---\n")
	b.Write(raw)
	b.WriteString("---\n\n")
	b.WriteString(content)
	return b.String(), nil
}
