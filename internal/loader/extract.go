package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

var textExtensions = map[string]struct{}{
	".txt": {}, ".text": {}, ".md": {}, ".markdown": {}, ".rst": {},
	".csv": {}, ".tsv": {}, ".json": {}, ".yaml": {}, ".yml": {},
	".xml": {}, ".log": {}, ".ini": {}, ".toml": {},
}

// sniffSize is how much of a file of unknown type is read to decide whether
// it is text.
const sniffSize = 8 << 10

var errNotText = errors.New("not UTF-8 text")

// Supported reports whether the loader can extract text from path: a known
// document or text extension, or any file whose leading bytes look like
// UTF-8 text.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf", ".docx", ".html", ".htm":
		return true
	}
	if _, ok := textExtensions[ext]; ok {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	return looksLikeText(head[:n], n == sniffSize)
}

// looksLikeText reports whether data is UTF-8 without NUL bytes. When
// truncated, a rune cut at the end of data is allowed.
func looksLikeText(data []byte, truncated bool) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	if truncated {
		for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	return utf8.Valid(data)
}

func extractText(path string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	case ".html", ".htm":
		return htmlText(data)
	}
	if !looksLikeText(data, false) {
		return "", errNotText
	}
	return string(data), nil
}

func pdfText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(make(map[string]*pdf.Font))
		if err != nil {
			// one unreadable page should not lose the rest of the document
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func docxText(content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open word/document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read word/document.xml: %w", err)
		}
		var doc docxDocument
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("parse word/document.xml: %w", err)
		}
		paragraphs := make([]string, 0, len(doc.Body.Paragraphs))
		for _, p := range doc.Body.Paragraphs {
			var line strings.Builder
			for _, r := range p.Runs {
				for _, t := range r.Text {
					line.WriteString(t.Content)
				}
			}
			paragraphs = append(paragraphs, line.String())
		}
		return strings.TrimSpace(strings.Join(paragraphs, "\n")), nil
	}
	return "", nil
}

func htmlText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	var blocks []string
	doc.Find("title, h1, h2, h3, h4, h5, h6, p, li, pre, td").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}
