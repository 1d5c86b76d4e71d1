package format

import (
	"testing"

	"logmux/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormatter(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		expected string
	}{
		{
			name:     "full record",
			line:     `{"ts":"2025-01-15T10:30:00Z","level":"ERROR","component":"mcp-server","event":"tool_call_failed","pid":4242,"host":"worker-1","data":{"tool":"search"}}`,
			expected: "2025-01-15T10:30:00Z [ERROR] mcp-server tool_call_failed pid=4242 host=worker-1 data={\"tool\":\"search\"}\n",
		},
		{
			name:     "partial record",
			line:     `{"level":"INFO","event":"startup"}`,
			expected: "[INFO] startup\n",
		},
		{
			name:     "no conventional fields falls back to raw",
			line:     `{"custom":"value"}`,
			expected: `{"custom":"value"}` + "\n",
		},
	}

	f := NewText(newTestLogger())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := core.ParseRecord("a.jsonl", []byte(tc.line))
			require.NoError(t, err)
			out, err := f.Format(rec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(out))
		})
	}
}
