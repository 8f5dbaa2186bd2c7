package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// DocumentShape names which known response layout a document-AI payload used.
type DocumentShape string

const (
	// ShapePages is the flat {"fullText", "pages":[{"pageNumber","text"}]} layout.
	ShapePages DocumentShape = "pages"
	// ShapeDocument is the Document AI layout nested under "document" with text anchors.
	ShapeDocument DocumentShape = "document"
	// ShapeUnknown keeps the raw payload when neither layout matched.
	ShapeUnknown DocumentShape = "unknown"
)

// PageText is the OCR text of a single page.
type PageText struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

// DocumentResult is the decoded response of the OCR collaborator.
type DocumentResult struct {
	Shape    DocumentShape
	FullText string
	Pages    []PageText
	Raw      json.RawMessage
}

type flatDocument struct {
	FullText *string    `json:"fullText"`
	Pages    []PageText `json:"pages"`
}

type nestedDocument struct {
	Document *struct {
		Text  string `json:"text"`
		Pages []struct {
			PageNumber int `json:"pageNumber"`
			Layout     struct {
				TextAnchor struct {
					TextSegments []struct {
						StartIndex json.Number `json:"startIndex"`
						EndIndex   json.Number `json:"endIndex"`
					} `json:"textSegments"`
				} `json:"textAnchor"`
			} `json:"layout"`
		} `json:"pages"`
	} `json:"document"`
}

// ParseDocumentResult decodes raw into one of the known shapes, falling back to ShapeUnknown.
func ParseDocumentResult(raw []byte) DocumentResult {
	res := DocumentResult{Shape: ShapeUnknown, Raw: append(json.RawMessage(nil), raw...)}

	var nested nestedDocument
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Document != nil {
		doc := nested.Document
		res.Shape = ShapeDocument
		res.FullText = doc.Text
		runes := []rune(doc.Text)
		for i, p := range doc.Pages {
			num := p.PageNumber
			if num == 0 {
				num = i + 1
			}
			var b strings.Builder
			for _, seg := range p.Layout.TextAnchor.TextSegments {
				start, _ := seg.StartIndex.Int64()
				end, _ := seg.EndIndex.Int64()
				if start < 0 || end > int64(len(runes)) || start >= end {
					continue
				}
				b.WriteString(string(runes[start:end]))
			}
			res.Pages = append(res.Pages, PageText{PageNumber: num, Text: b.String()})
		}
		sortPageTexts(res.Pages)
		return res
	}

	var flat flatDocument
	if err := json.Unmarshal(raw, &flat); err == nil && (flat.FullText != nil || len(flat.Pages) > 0) {
		res.Shape = ShapePages
		res.Pages = flat.Pages
		sortPageTexts(res.Pages)
		if flat.FullText != nil {
			res.FullText = *flat.FullText
		} else {
			res.FullText = res.joinedText()
		}
		return res
	}

	return res
}

// PageTextFor returns the OCR text of pageNumber, or "" when unknown.
func (r DocumentResult) PageTextFor(pageNumber int) string {
	for _, p := range r.Pages {
		if p.PageNumber == pageNumber {
			return p.Text
		}
	}
	return ""
}

// Markdown renders per-page text under page headings.
func (r DocumentResult) Markdown() string {
	if len(r.Pages) == 0 {
		return r.FullText
	}
	var b strings.Builder
	for i, p := range r.Pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## Page ")
		b.WriteString(strconv.Itoa(p.PageNumber))
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(p.Text))
	}
	return b.String()
}

func (r DocumentResult) joinedText() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

func sortPageTexts(pages []PageText) {
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
}
