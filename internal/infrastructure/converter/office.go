package converter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const maxOfficePartSize = 64 << 20

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type docxConverter struct{}

func NewDOCXConverter() FormatConverter {
	return &docxConverter{}
}

func (c *docxConverter) Name() string { return "docx" }

func (c *docxConverter) SupportedExtensions() []string { return []string{".docx"} }

// Convert keeps paragraph text and maps Title/HeadingN styles to Markdown headings.
func (c *docxConverter) Convert(_ context.Context, src Source) (string, error) {
	pkg, err := zip.NewReader(src.Reader, src.Size)
	if err != nil {
		return "", invalidInput("convert docx", "Invalid or corrupt DOCX document", err)
	}
	data, err := readPart(pkg, "word/document.xml")
	if err != nil {
		return "", invalidInput("convert docx", "Invalid or corrupt DOCX document", err)
	}

	paragraphs, err := paragraphs(data, true)
	if err != nil {
		return "", invalidInput("convert docx", "Invalid or corrupt DOCX document", err)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

type pptxConverter struct{}

func NewPPTXConverter() FormatConverter {
	return &pptxConverter{}
}

func (c *pptxConverter) Name() string { return "pptx" }

func (c *pptxConverter) SupportedExtensions() []string { return []string{".pptx"} }

// Convert emits one section per slide in slide order.
func (c *pptxConverter) Convert(_ context.Context, src Source) (string, error) {
	pkg, err := zip.NewReader(src.Reader, src.Size)
	if err != nil {
		return "", invalidInput("convert pptx", "Invalid or corrupt PPTX presentation", err)
	}

	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range pkg.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, name: f.Name})
	}
	if len(slides) == 0 {
		return "", invalidInput("convert pptx", "Invalid or corrupt PPTX presentation", errors.New("no slides"))
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	sections := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readPart(pkg, s.name)
		if err != nil {
			return "", invalidInput("convert pptx", "Invalid or corrupt PPTX presentation", err)
		}
		lines, err := paragraphs(data, false)
		if err != nil {
			return "", invalidInput("convert pptx", "Invalid or corrupt PPTX presentation", err)
		}
		section := fmt.Sprintf("## Slide %d", s.num)
		if len(lines) > 0 {
			section += "\n\n" + strings.Join(lines, "\n")
		}
		sections = append(sections, section)
	}
	return strings.Join(sections, "\n\n"), nil
}

func readPart(pkg *zip.Reader, name string) ([]byte, error) {
	part, err := pkg.Open(name)
	if err != nil {
		return nil, err
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, maxOfficePartSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxOfficePartSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxOfficePartSize)
	}
	return data, nil
}

// paragraphs collects the text runs of every <p> element in an OOXML part.
func paragraphs(data []byte, headings bool) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var (
		out    []string
		para   strings.Builder
		level  int
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				level = 0
			case "pStyle":
				if headings {
					level = headingLevel(attrValue(t, "val"))
				}
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if level > 0 {
					text = strings.Repeat("#", level) + " " + text
				}
				out = append(out, text)
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out, nil
}

func headingLevel(style string) int {
	if strings.EqualFold(style, "Title") {
		return 1
	}
	lower := strings.ToLower(style)
	if !strings.HasPrefix(lower, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(lower[len("heading"):]))
	if err != nil || n < 1 {
		return 0
	}
	if n > 6 {
		n = 6
	}
	return n
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
