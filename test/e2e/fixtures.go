// Package e2e provides end-to-end tests; this file builds minimal files for supported types.
package e2e

import (
	"archive/zip"
	"bytes"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions is the list of file extensions used in E2E file-based tests.
// Covers plain text (.txt, .md, .rst), HTML, OOXML (.docx, .xlsx). PDF is supported by
// the parser but not generated here (no minimal PDF with extractable text).
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst", ".html", ".docx", ".xlsx",
}

// MinimalFile returns the bytes of a minimal file of the given extension whose
// extracted text contains the given content. For plain types the content is the
// raw text; for binary types it is the file bytes.
func MinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".html", ".htm":
		return []byte("<html><body><p>" + text + "</p></body></html>"), nil
	case ".docx":
		return minimalDocx(text), nil
	case ".xlsx":
		return minimalXlsx(text), nil
	default:
		return []byte(text), nil
	}
}

func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func minimalXlsx(text string) []byte {
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetCellValue("Sheet1", "A1", text)
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}
