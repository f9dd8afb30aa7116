package converter

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfConverter struct{}

func NewPDFConverter() FormatConverter {
	return &pdfConverter{}
}

func (c *pdfConverter) Name() string { return "pdf" }

func (c *pdfConverter) SupportedExtensions() []string { return []string{".pdf"} }

// Convert extracts the plain text of every page; pages are separated by a blank line.
func (c *pdfConverter) Convert(_ context.Context, src Source) (string, error) {
	reader, err := pdf.NewReader(src.Reader, src.Size)
	if err != nil {
		return "", invalidInput("convert pdf", "Invalid or corrupt PDF document", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", invalidInput("convert pdf", "Failed to extract text from PDF document", err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
