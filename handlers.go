package main

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var debugEnabled bool

// SetDebugMode enables or disables debug logging
func SetDebugMode(enabled bool) {
	debugEnabled = enabled
}

func debugLog(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// ContentHandler normalizes raw item content based on its shape
type ContentHandler interface {
	CanHandle(raw string) bool
	Handle(raw string) (string, error)
}

// Content is HTML only when it opens with a block element and closes one;
// plain notes that merely mention tags stay text.
var (
	htmlStartPattern = regexp.MustCompile(`(?i)^(<!doctype html|<(html|body|p|div|h[1-6]|ul|ol|blockquote|article|section|table)[\s/>])`)
	htmlClosePattern = regexp.MustCompile(`(?i)</(html|body|p|div|h[1-6]|ul|ol|li|blockquote|article|section|table)>`)
)

// HTMLHandler converts content pasted from a web page into markdown
type HTMLHandler struct {
	converter *md.Converter
}

func NewHTMLHandler() *HTMLHandler {
	return &HTMLHandler{converter: md.NewConverter("", true, nil)}
}

func (h *HTMLHandler) CanHandle(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return htmlStartPattern.MatchString(trimmed) && htmlClosePattern.MatchString(trimmed)
}

func (h *HTMLHandler) Handle(raw string) (string, error) {
	markdown, err := h.converter.ConvertString(raw)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// TextHandler handles plain text (fallback)
type TextHandler struct{}

func (h *TextHandler) CanHandle(raw string) bool {
	return true // Always handles as fallback
}

func (h *TextHandler) Handle(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text), nil
}
