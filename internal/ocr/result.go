package ocr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/layout"
)

// Segment is one recognized text fragment. Box is nil when the service
// returned plain strings without geometry.
type Segment struct {
	Text       string
	Box        *[4]layout.Point
	Confidence float64
}

// Result is the parsed OCR response.
type Result struct {
	RequestID string
	Segments  []Segment
	// Raw holds the unwrapped payload when it matched no known segment
	// shape. Segments is empty in that case.
	Raw any
}

// Tokens returns the segments that carry geometry.
func (r *Result) Tokens() []layout.Token {
	tokens := make([]layout.Token, 0, len(r.Segments))
	for _, s := range r.Segments {
		if s.Box == nil {
			continue
		}
		tokens = append(tokens, layout.Token{Text: s.Text, Box: *s.Box, Confidence: s.Confidence})
	}
	return tokens
}

// Text renders the result as document text. When every segment has geometry
// the reading order is rebuilt with layout.Reconstruct; otherwise segments
// are joined by newlines in service order.
func (r *Result) Text() string {
	if r.Raw != nil {
		b, err := json.Marshal(r.Raw)
		if err != nil {
			return ""
		}
		return string(b)
	}
	if len(r.Segments) == 0 {
		return ""
	}
	tokens := r.Tokens()
	if len(tokens) == len(r.Segments) {
		return layout.Reconstruct(tokens)
	}

	lines := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		lines = append(lines, s.Text)
	}
	return strings.Join(lines, "\n")
}

// parseResult unwraps payload and parses it into segments. A value that
// matches no segment shape is kept as Raw with the parse error.
func parseResult(payload any, paths []string) (*Result, error) {
	result := &Result{}
	if obj, ok := payload.(map[string]any); ok {
		result.RequestID, _ = obj["request_id"].(string)
	}

	v := unwrap(payload, paths)
	segments, err := parseSegments(v)
	if err != nil {
		result.Raw = v
		return result, err
	}
	result.Segments = segments
	return result, nil
}

func parseSegments(v any) ([]Segment, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		var out []Segment
		for _, line := range strings.Split(t, "\n") {
			out = append(out, Segment{Text: line})
		}
		return out, nil
	case map[string]any:
		return parseObject(t)
	case []any:
		var out []Segment
		for i, elem := range t {
			segs, err := parseElement(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, segs...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected OCR payload of type %T", v)
	}
}

func parseElement(v any) ([]Segment, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []Segment{{Text: t}}, nil
	case map[string]any:
		return parseObject(t)
	case []any:
		if seg, ok := parsePaddlePair(t); ok {
			return []Segment{seg}, nil
		}
		// Per-page nesting.
		return parseSegments(t)
	default:
		return nil, fmt.Errorf("unexpected OCR element of type %T", v)
	}
}

// parseObject handles token objects ({text, box, confidence}) and the
// per-page prediction shape ({rec_texts, rec_scores, rec_polys}).
func parseObject(obj map[string]any) ([]Segment, error) {
	if texts, ok := obj["rec_texts"].([]any); ok {
		return parsePrediction(obj, texts)
	}

	text, ok := firstString(obj, "text", "rec_text", "transcription")
	if !ok {
		return nil, fmt.Errorf("object has no text field")
	}
	seg := Segment{Text: text, Confidence: firstNumber(obj, "confidence", "score")}
	for _, key := range []string{"box", "bbox", "points", "poly"} {
		if box, ok := parseBox(obj[key]); ok {
			seg.Box = box
			break
		}
	}
	return []Segment{seg}, nil
}

func parsePrediction(obj map[string]any, texts []any) ([]Segment, error) {
	scores, _ := obj["rec_scores"].([]any)
	var polys []any
	for _, key := range []string{"rec_polys", "dt_polys", "rec_boxes"} {
		if p, ok := obj[key].([]any); ok && len(p) == len(texts) {
			polys = p
			break
		}
	}

	out := make([]Segment, 0, len(texts))
	for i, raw := range texts {
		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("rec_texts[%d] is %T, not a string", i, raw)
		}
		seg := Segment{Text: text}
		if i < len(scores) {
			seg.Confidence, _ = scores[i].(float64)
		}
		if polys != nil {
			seg.Box, _ = parseBox(polys[i])
		}
		out = append(out, seg)
	}
	return out, nil
}

// parsePaddlePair recognizes [[[x,y] x4], [text, score]].
func parsePaddlePair(v []any) (Segment, bool) {
	if len(v) != 2 {
		return Segment{}, false
	}
	box, ok := parseBox(v[0])
	if !ok {
		return Segment{}, false
	}
	rec, ok := v[1].([]any)
	if !ok || len(rec) == 0 {
		return Segment{}, false
	}
	text, ok := rec[0].(string)
	if !ok {
		return Segment{}, false
	}
	seg := Segment{Text: text, Box: box}
	if len(rec) > 1 {
		seg.Confidence, _ = rec[1].(float64)
	}
	return seg, true
}

// parseBox accepts a list of points ([x,y] pairs or {x,y} objects) or a flat
// [x1, y1, x2, y2] rectangle. Anything other than four points is reduced to
// its bounding rectangle.
func parseBox(v any) (*[4]layout.Point, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}

	if len(list) == 4 {
		if nums, ok := numbers(list); ok {
			x1, y1, x2, y2 := nums[0], nums[1], nums[2], nums[3]
			box := layout.Rect(math.Min(x1, x2), math.Min(y1, y2), math.Abs(x2-x1), math.Abs(y2-y1))
			return &box, true
		}
	}

	points := make([]layout.Point, 0, len(list))
	for _, raw := range list {
		p, ok := parsePoint(raw)
		if !ok {
			return nil, false
		}
		points = append(points, p)
	}
	if len(points) < 2 {
		return nil, false
	}
	if len(points) == 4 {
		box := [4]layout.Point{points[0], points[1], points[2], points[3]}
		return &box, true
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	box := layout.Rect(minX, minY, maxX-minX, maxY-minY)
	return &box, true
}

func parsePoint(v any) (layout.Point, bool) {
	switch t := v.(type) {
	case []any:
		nums, ok := numbers(t)
		if !ok || len(nums) != 2 {
			return layout.Point{}, false
		}
		return layout.Point{X: nums[0], Y: nums[1]}, true
	case map[string]any:
		x, okX := t["x"].(float64)
		y, okY := t["y"].(float64)
		return layout.Point{X: x, Y: y}, okX && okY
	default:
		return layout.Point{}, false
	}
}

func numbers(list []any) ([]float64, bool) {
	out := make([]float64, len(list))
	for i, raw := range list {
		f, ok := raw.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func firstString(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func firstNumber(obj map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := obj[k].(float64); ok {
			return f
		}
	}
	return 0
}
