package web

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxExtractedChars bounds extracted_text so one bloated page cannot
// dominate downstream prompts.
const maxExtractedChars = 20000

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract strips boilerplate markup and returns the page's main text
// and title.
func (e *Extractor) Extract(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteString(" ")
	})

	text := strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > maxExtractedChars {
		text = text[:maxExtractedChars]
	}

	return text, title, nil
}
