package filter

import (
	"testing"

	"logmux/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecord(t *testing.T, line string) core.LogRecord {
	t.Helper()
	rec, err := core.ParseRecord("test.jsonl", []byte(line))
	require.NoError(t, err)
	return rec
}

func TestCompile(t *testing.T) {
	testCases := []struct {
		name     string
		expr     string
		expected []Constraint
		wantErr  bool
	}{
		{
			name:     "empty expression matches all",
			expr:     "",
			expected: nil,
		},
		{
			name:     "whitespace only",
			expr:     "   ",
			expected: nil,
		},
		{
			name:     "single term",
			expr:     "level=ERROR",
			expected: []Constraint{{"level", "ERROR"}},
		},
		{
			name:     "multiple terms",
			expr:     "level=ERROR,component=mcp-server",
			expected: []Constraint{{"level", "ERROR"}, {"component", "mcp-server"}},
		},
		{
			name:     "surrounding whitespace trimmed",
			expr:     " level = ERROR , event = startup ",
			expected: []Constraint{{"level", "ERROR"}, {"event", "startup"}},
		},
		{
			name:     "trailing comma skipped",
			expr:     "level=WARN,",
			expected: []Constraint{{"level", "WARN"}},
		},
		{
			name:     "value may contain equals",
			expr:     "event=a=b",
			expected: []Constraint{{"event", "a=b"}},
		},
		{
			name:     "empty value allowed",
			expr:     "host=",
			expected: []Constraint{{"host", ""}},
		},
		{
			name:    "missing equals",
			expr:    "level",
			wantErr: true,
		},
		{
			name:    "missing equals in second term",
			expr:    "level=INFO,component",
			wantErr: true,
		},
		{
			name:    "empty key",
			expr:    "=ERROR",
			wantErr: true,
		},
		{
			name:    "whitespace key",
			expr:    "  =ERROR",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Compile(tc.expr)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.constraints)
		})
	}
}

func TestMatches(t *testing.T) {
	line := `{"ts":"2025-01-15T10:30:00Z","level":"ERROR","component":"mcp-server","event":"tool_call_failed","pid":4242,"ok":false,"gone":null}`

	testCases := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"empty matches everything", "", true},
		{"single field match", "level=ERROR", true},
		{"single field mismatch", "level=INFO", false},
		{"case sensitive value", "level=error", false},
		{"all constraints hold", "level=ERROR,component=mcp-server", true},
		{"one constraint fails", "level=ERROR,component=mcp-client", false},
		{"missing field never matches", "request_id=abc", false},
		{"null field never matches", "gone=", false},
		{"numeric field stringified", "pid=4242", true},
		{"bool field stringified", "ok=false", true},
		{"case sensitive key", "Level=ERROR", false},
	}

	rec := makeRecord(t, line)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Compile(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.Matches(rec))
		})
	}
}

func TestPredicateStats(t *testing.T) {
	p, err := Compile("level=ERROR")
	require.NoError(t, err)

	records := []string{
		`{"level":"ERROR","event":"a"}`,
		`{"level":"INFO","event":"b"}`,
		`{"level":"ERROR","event":"c"}`,
		`{"event":"no level"}`,
	}
	matched := 0
	for _, line := range records {
		if p.Matches(makeRecord(t, line)) {
			matched++
		}
	}

	assert.Equal(t, 2, matched)
	stats := p.GetStats()
	assert.Equal(t, "level=ERROR", stats.Expression)
	assert.Equal(t, 1, stats.Constraints)
	assert.Equal(t, uint64(4), stats.TotalProcessed)
	assert.Equal(t, uint64(2), stats.TotalMatched)
}

func TestPredicateString(t *testing.T) {
	p, err := Compile(" level = ERROR ,component=mcp-server, ")
	require.NoError(t, err)
	assert.Equal(t, "level=ERROR,component=mcp-server", p.String())
	assert.False(t, p.Empty())
	assert.Equal(t, 2, p.Len())

	empty, err := Compile("")
	require.NoError(t, err)
	assert.Equal(t, "", empty.String())
	assert.True(t, empty.Empty())
}
