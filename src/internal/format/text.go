package format

import (
	"encoding/json"
	"strconv"
	"strings"

	"logmux/src/internal/core"

	"github.com/lixenwraith/log"
)

// Renders records as human readable single lines from the conventional
// producer fields. Records carrying none of them fall back to the raw line.
type TextFormatter struct {
	logger *log.Logger
}

func NewText(logger *log.Logger) *TextFormatter {
	return &TextFormatter{logger: logger}
}

func (f *TextFormatter) Format(rec core.LogRecord) ([]byte, error) {
	var b strings.Builder

	if rec.Timestamp != "" {
		b.WriteString(rec.Timestamp)
	}
	if rec.Level != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		b.WriteString(rec.Level)
		b.WriteByte(']')
	}
	if rec.Component != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(rec.Component)
	}
	if rec.Event != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(rec.Event)
	}
	if rec.PID != 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("pid=")
		b.WriteString(strconv.FormatInt(rec.PID, 10))
	}
	if rec.Host != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("host=")
		b.WriteString(rec.Host)
	}
	if data := rec.Data(); len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err == nil {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString("data=")
			b.Write(encoded)
		}
	}

	if b.Len() == 0 {
		out := make([]byte, 0, len(rec.Raw)+1)
		out = append(out, rec.Raw...)
		out = append(out, '\n')
		return out, nil
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (f *TextFormatter) Name() string {
	return "text"
}
