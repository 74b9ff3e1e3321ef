package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// parsePlain returns content as string, validating it is valid UTF-8.
// Invalid UTF-8 sequences are replaced with the replacement character.
func parsePlain(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		raw = []byte(strings.ToValidUTF8(string(raw), "�"))
	}
	return string(raw), nil
}

var (
	htmlScript = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTag    = regexp.MustCompile(`(?s)<[^>]+>`)
)

// parseHTML strips script/style blocks and tags, leaving the visible text.
func parseHTML(raw []byte) (string, error) {
	text, err := parsePlain(raw)
	if err != nil {
		return "", err
	}
	text = htmlScript.ReplaceAllString(text, " ")
	text = htmlTag.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.TrimSpace(text), nil
}
