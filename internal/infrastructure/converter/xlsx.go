package converter

import (
	"context"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxWorkbookUnzipSize = 256 << 20

type xlsxConverter struct{}

func NewXLSXConverter() FormatConverter {
	return &xlsxConverter{}
}

func (c *xlsxConverter) Name() string { return "xlsx" }

func (c *xlsxConverter) SupportedExtensions() []string { return []string{".xlsx"} }

// Convert renders each sheet as a heading followed by a table of its rows.
func (c *xlsxConverter) Convert(_ context.Context, src Source) (string, error) {
	book, err := excelize.OpenReader(io.NewSectionReader(src.Reader, 0, src.Size), excelize.Options{
		UnzipSizeLimit: maxWorkbookUnzipSize,
	})
	if err != nil {
		return "", invalidInput("convert xlsx", "Invalid or corrupt XLSX workbook", err)
	}
	defer book.Close()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", invalidInput("convert xlsx", "Failed to read XLSX sheet", err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(sheet)
		b.WriteString("\n\n")
		b.WriteString(markdownTable(rows))
	}
	return b.String(), nil
}
