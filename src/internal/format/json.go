package format

import (
	"logmux/src/internal/core"

	"github.com/lixenwraith/log"
)

// Emits the record's raw producer line, newline terminated. Records are
// never re-marshaled, so field order and unknown fields pass through
// exactly as written.
type JSONFormatter struct {
	logger *log.Logger
}

func NewJSON(logger *log.Logger) *JSONFormatter {
	return &JSONFormatter{logger: logger}
}

func (f *JSONFormatter) Format(rec core.LogRecord) ([]byte, error) {
	out := make([]byte, 0, len(rec.Raw)+1)
	out = append(out, rec.Raw...)
	out = append(out, '\n')
	return out, nil
}

func (f *JSONFormatter) Name() string {
	return "json"
}
