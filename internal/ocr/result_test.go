package ocr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestParseResultShapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantText string
	}{
		{
			name:     "texts key",
			payload:  `{"texts":["a","b"]}`,
			wantText: "a\nb",
		},
		{
			name:     "plain string",
			payload:  `"line one\nline two"`,
			wantText: "line one\nline two",
		},
		{
			name: "prediction dict",
			payload: `{"result":[{"rec_texts":["Amount","Date"],"rec_scores":[0.9,0.8],
				"rec_polys":[[[60,10],[90,10],[90,30],[60,30]],[[10,12],[40,12],[40,32],[10,32]]]}]}`,
			wantText: "Date\tAmount",
		},
		{
			name:     "paged paddle pairs",
			payload:  `[[ [[[50,0],[90,0],[90,20],[50,20]],["right",0.9]], [[[0,0],[40,0],[40,20],[0,20]],["left",0.9]] ]]`,
			wantText: "left\tright",
		},
		{
			name:     "point objects",
			payload:  `[{"text":"x","points":[{"x":0,"y":0},{"x":5,"y":0},{"x":5,"y":5},{"x":0,"y":5}]}]`,
			wantText: "x",
		},
		{
			name:     "mixed geometry falls back to service order",
			payload:  `[{"text":"second","bbox":[0,50,10,60]},"first"]`,
			wantText: "second\nfirst",
		},
		{
			name:     "empty list",
			payload:  `{"texts":[]}`,
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResult(decode(t, tt.payload), DefaultResultPaths)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, res.Text())
		})
	}
}

func TestParseResultPassesUnknownShapesThrough(t *testing.T) {
	tests := []struct {
		payload  string
		wantText string
	}{
		{`{"pages":[{"lines":["a"]}],"request_id":"r1"}`, `{"pages":[{"lines":["a"]}],"request_id":"r1"}`},
		{`true`, `true`},
		{`[{"nope":1}]`, `[{"nope":1}]`},
		{`{"rec_texts":[1]}`, `{"rec_texts":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			res, err := parseResult(decode(t, tt.payload), DefaultResultPaths)
			assert.Error(t, err)
			require.NotNil(t, res)
			assert.Empty(t, res.Segments)
			assert.NotNil(t, res.Raw)
			assert.JSONEq(t, tt.wantText, res.Text())
		})
	}
}

func TestParseBoxPolygonBounds(t *testing.T) {
	box, ok := parseBox(decode(t, `[[0,0],[10,2],[12,8],[4,12],[1,6]]`))
	require.True(t, ok)
	assert.Equal(t, 0.0, box[0].X)
	assert.Equal(t, 0.0, box[0].Y)
	assert.Equal(t, 12.0, box[2].X)
	assert.Equal(t, 12.0, box[2].Y)
}
