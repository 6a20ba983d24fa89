// Package layout rebuilds reading order from unordered OCR tokens.
package layout

import (
	"math"
	"sort"
	"strings"
)

// Point is one corner of a token's bounding box, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Token is one recognized text fragment with its quadrilateral box.
type Token struct {
	Text       string   `json:"text"`
	Box        [4]Point `json:"box"`
	Confidence float64  `json:"confidence"`
}

// Top returns the smallest y of the box.
func (t Token) Top() float64 {
	top := math.Inf(1)
	for _, p := range t.Box {
		top = math.Min(top, p.Y)
	}
	return top
}

// Bottom returns the largest y of the box.
func (t Token) Bottom() float64 {
	bottom := math.Inf(-1)
	for _, p := range t.Box {
		bottom = math.Max(bottom, p.Y)
	}
	return bottom
}

// Left returns the smallest x of the box.
func (t Token) Left() float64 {
	left := math.Inf(1)
	for _, p := range t.Box {
		left = math.Min(left, p.X)
	}
	return left
}

// CenterY is the vertical center of the box.
func (t Token) CenterY() float64 {
	return (t.Top() + t.Bottom()) / 2
}

// line is a group of tokens sharing one vertical band.
type line struct {
	tokens []Token
	top    float64
	bottom float64
}

func (l *line) add(t Token) {
	l.tokens = append(l.tokens, t)
	l.top = math.Min(l.top, t.Top())
	l.bottom = math.Max(l.bottom, t.Bottom())
}

// accepts reports whether t belongs to the band covered so far: its center
// must lie within half the taller of the two heights from the band's center.
// Tokens of mixed height on one row join; rows whose centers are further
// apart than that stay separate even when their boxes overlap.
func (l *line) accepts(t Token) bool {
	center := (l.top + l.bottom) / 2
	height := math.Max(l.bottom-l.top, t.Bottom()-t.Top())
	return math.Abs(t.CenterY()-center) < height/2
}

func (l *line) render() string {
	sort.SliceStable(l.tokens, func(i, j int) bool {
		a, b := l.tokens[i], l.tokens[j]
		if a.Left() != b.Left() {
			return a.Left() < b.Left()
		}
		if a.CenterY() != b.CenterY() {
			return a.CenterY() < b.CenterY()
		}
		return a.Text < b.Text
	})
	texts := make([]string, len(l.tokens))
	for i, t := range l.tokens {
		texts[i] = t.Text
	}
	return strings.Join(texts, "\t")
}

// Reconstruct groups tokens into visual rows and renders them top-to-bottom,
// fields separated by tabs and rows by newlines. The output does not depend
// on the order of the input.
func Reconstruct(tokens []Token) string {
	usable := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		usable = append(usable, t)
	}
	if len(usable) == 0 {
		return ""
	}

	// Full key so equal centers still give a total order.
	sort.Slice(usable, func(i, j int) bool {
		a, b := usable[i], usable[j]
		switch {
		case a.CenterY() != b.CenterY():
			return a.CenterY() < b.CenterY()
		case a.Left() != b.Left():
			return a.Left() < b.Left()
		case a.Top() != b.Top():
			return a.Top() < b.Top()
		case a.Bottom() != b.Bottom():
			return a.Bottom() < b.Bottom()
		default:
			return a.Text < b.Text
		}
	})

	var lines []*line
	var current *line
	for _, t := range usable {
		if current == nil || !current.accepts(t) {
			current = &line{top: math.Inf(1), bottom: math.Inf(-1)}
			lines = append(lines, current)
		}
		current.add(t)
	}

	rendered := make([]string, len(lines))
	for i, l := range lines {
		rendered[i] = l.render()
	}
	return strings.Join(rendered, "\n")
}

// Rect builds an axis-aligned box from its top-left corner and size.
func Rect(x, y, w, h float64) [4]Point {
	return [4]Point{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
}
