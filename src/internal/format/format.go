package format

import (
	"fmt"
	"strings"

	"logmux/src/internal/core"

	"github.com/lixenwraith/log"
)

// Formatter transforms log records into delivery bytes
type Formatter interface {
	Format(rec core.LogRecord) ([]byte, error)
	Name() string
}

// Creates a formatter based on the format name
func New(name string, logger *log.Logger) (Formatter, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return NewJSON(logger), nil
	case "text", "txt":
		return NewText(logger), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", name)
	}
}
