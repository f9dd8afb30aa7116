package converter

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// markdownTable renders rows as a pipe table; the first row is the header.
func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = escapeCell(row[i])
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return b.String()
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func escapeCell(cell string) string {
	return strings.TrimSpace(cellEscaper.Replace(cell))
}

type csvConverter struct{}

func NewCSVConverter() FormatConverter {
	return &csvConverter{}
}

func (c *csvConverter) Name() string { return "csv" }

func (c *csvConverter) SupportedExtensions() []string { return []string{".csv"} }

func (c *csvConverter) Convert(_ context.Context, src Source) (string, error) {
	raw, err := src.Bytes()
	if err != nil {
		return "", err
	}

	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", invalidInput("convert csv", "Invalid CSV document", err)
		}
		rows = append(rows, record)
	}
	return markdownTable(rows), nil
}
