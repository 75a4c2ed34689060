package statute

import "strings"

// Document is a statute split into its three regions.
type Document struct {
	// Main holds the article-form parts.
	Main string
	// Transitional holds the paragraph-form part, starting at its label.
	Transitional string
	// Footer is the trailing signature and status block.
	Footer string
}

// RemoveHeader drops everything before the general part label. Text without
// the label is returned unchanged.
func RemoveHeader(text string, m Markers) string {
	idx := strings.Index(text, m.GeneralPart)
	if idx == -1 {
		return text
	}
	return text[idx:]
}

// SplitMainAndFooter splits at the footer marker, which is mandatory.
func SplitMainAndFooter(text string, m Markers) (main, footer string, err error) {
	idx := strings.Index(text, m.FooterMarker)
	if idx == -1 {
		return "", "", &MarkerError{Marker: m.FooterMarker, Region: "document"}
	}
	return text[:idx], text[idx:], nil
}

// SplitMainAndTransitional splits the main text at the transitional part
// label, which is mandatory.
func SplitMainAndTransitional(main string, m Markers) (articles, transitional string, err error) {
	idx := strings.Index(main, m.TransitionalPart)
	if idx == -1 {
		return "", "", &MarkerError{Marker: m.TransitionalPart, Region: "main"}
	}
	return main[:idx], main[idx:], nil
}

// Split removes the header and separates the three regions.
func Split(text string, m Markers) (Document, error) {
	body, footer, err := SplitMainAndFooter(RemoveHeader(text, m), m)
	if err != nil {
		return Document{}, err
	}
	main, transitional, err := SplitMainAndTransitional(body, m)
	if err != nil {
		return Document{}, err
	}
	return Document{Main: main, Transitional: transitional, Footer: strings.TrimSpace(footer)}, nil
}
