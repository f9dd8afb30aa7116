package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

type jsonConverter struct{}

func NewJSONConverter() FormatConverter {
	return &jsonConverter{}
}

func (c *jsonConverter) Name() string { return "json" }

func (c *jsonConverter) SupportedExtensions() []string { return []string{".json"} }

func (c *jsonConverter) Convert(_ context.Context, src Source) (string, error) {
	raw, err := src.Bytes()
	if err != nil {
		return "", err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimPrefix(raw, utf8BOM), "", "  "); err != nil {
		return "", invalidInput("convert json", "Invalid JSON document", err)
	}
	return fence("json", pretty.String()), nil
}

type xmlConverter struct{}

func NewXMLConverter() FormatConverter {
	return &xmlConverter{}
}

func (c *xmlConverter) Name() string { return "xml" }

func (c *xmlConverter) SupportedExtensions() []string { return []string{".xml"} }

func (c *xmlConverter) Convert(_ context.Context, src Source) (string, error) {
	raw, err := src.Bytes()
	if err != nil {
		return "", err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = true
	sawElement := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", invalidInput("convert xml", "Invalid XML document", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return "", invalidInput("convert xml", "Invalid XML document", errors.New("no root element"))
	}
	return fence("xml", string(raw)), nil
}

func fence(lang, body string) string {
	return "```" + lang + "\n" + strings.TrimSpace(body) + "\n```\n"
}
