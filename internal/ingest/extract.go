package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Document is raw extracted text plus the metadata every chunk cut from it
// inherits.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Extractor turns a file on disk into one or more documents.
type Extractor func(path string) ([]Document, error)

func defaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".txt":  extractText,
	}
}

// extractPDF yields one document per page that has text.
func extractPDF(path string) ([]Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var docs []Document
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, Document{
			Content:  text,
			Metadata: map[string]any{"page": i - 1},
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("pdf has no extractable text")
	}
	return docs, nil
}

// extractDOCX reads paragraph text out of word/document.xml.
func extractDOCX(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	text, err := docxText(strings.NewReader(r.Editable().GetContent()))
	if err != nil {
		return nil, err
	}
	return []Document{{Content: text, Metadata: map[string]any{}}}, nil
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func extractText(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return []Document{{Content: strings.ToValidUTF8(string(data), "�"), Metadata: map[string]any{}}}, nil
}
