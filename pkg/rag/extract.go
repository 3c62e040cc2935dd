package rag

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// Document source types accepted by the ingestion pipeline.
const (
	SourceTypePDF  = "pdf"
	SourceTypeDOCX = "docx"
	SourceTypeTXT  = "txt"
)

// SniffContentType inspects raw bytes and returns the detected source
// type, or an empty string when the format is not recognized. Plain text
// is the fallback for anything that decodes as text.
func SniffContentType(data []byte) string {
	if len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-")) {
		return SourceTypePDF
	}
	// DOCX is a ZIP container holding word/document.xml.
	if len(data) >= 4 && bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		if reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err == nil {
			for _, file := range reader.File {
				if file.Name == "word/document.xml" {
					return SourceTypeDOCX
				}
			}
		}
		return ""
	}
	if looksLikeText(data) {
		return SourceTypeTXT
	}
	return ""
}

// ExtractText converts raw document bytes of the given source type into
// plain text. Extraction failures are terminal for the document.
func ExtractText(data []byte, sourceType string) (string, error) {
	switch sourceType {
	case SourceTypePDF:
		return extractPDF(data)
	case SourceTypeDOCX:
		return extractDOCX(data)
	case SourceTypeTXT:
		return extractTXT(data)
	default:
		return "", errors.NewValidationError(errors.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported document type %q", sourceType))
	}
}

// extractPDF pulls text out of every page of a PDF document.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.NewValidationError(errors.CodeExtractionFailed,
			fmt.Sprintf("failed to open PDF: %v", err))
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", errors.NewValidationError(errors.CodeExtractionFailed,
				fmt.Sprintf("failed to extract PDF page %d: %v", pageNum, err))
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// docx body XML: paragraphs (w:p) contain runs (w:r) with text nodes (w:t).
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Texts []string `xml:"t"`
	} `xml:"r"`
}

// extractDOCX reads word/document.xml out of the DOCX container and joins
// paragraph text with newlines.
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.NewValidationError(errors.CodeExtractionFailed,
			fmt.Sprintf("failed to open DOCX container: %v", err))
	}

	var documentXML io.ReadCloser
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			documentXML, err = file.Open()
			if err != nil {
				return "", errors.NewValidationError(errors.CodeExtractionFailed,
					fmt.Sprintf("failed to open DOCX document part: %v", err))
			}
			break
		}
	}
	if documentXML == nil {
		return "", errors.NewValidationError(errors.CodeExtractionFailed,
			"DOCX container has no word/document.xml")
	}
	defer documentXML.Close()

	var doc docxDocument
	if err := xml.NewDecoder(documentXML).Decode(&doc); err != nil {
		return "", errors.NewValidationError(errors.CodeExtractionFailed,
			fmt.Sprintf("failed to parse DOCX document XML: %v", err))
	}

	var builder strings.Builder
	for _, paragraph := range doc.Body.Paragraphs {
		for _, run := range paragraph.Runs {
			for _, text := range run.Texts {
				builder.WriteString(text)
			}
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// extractTXT decodes plain text, trying UTF-8 first and falling back to
// Windows-1251 for legacy Cyrillic uploads.
func extractTXT(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.NewValidationError(errors.CodeExtractionFailed,
			"text file is neither valid UTF-8 nor Windows-1251")
	}
	return string(decoded), nil
}

// looksLikeText reports whether the bytes plausibly contain plain text:
// valid UTF-8 or a single-byte encoding, with no NUL bytes.
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return !bytes.ContainsRune(data, 0)
}
