package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Conventional top-level fields written by producers
const (
	FieldTimestamp = "ts"
	FieldLevel     = "level"
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldData      = "data"
	FieldPID       = "pid"
	FieldHost      = "host"
)

var ErrNotObject = errors.New("line is not a JSON object")

// Represents a single log record read from a source file
type LogRecord struct {
	// Base name of the file the record was read from
	Source string

	// Conventional producer fields, empty when absent
	Timestamp string
	Level     string
	Component string
	Event     string
	Host      string
	PID       int64

	// All top-level fields as decoded, numbers kept as json.Number
	Fields map[string]any

	// The line exactly as the producer wrote it, without the trailing
	// newline. Delivery uses this verbatim so unknown fields survive.
	Raw []byte
}

// Parses one JSONL line into a record. The line must be a single JSON
// object; anything else is an error. The input is copied, callers may
// reuse the buffer.
func ParseRecord(source string, line []byte) (LogRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return LogRecord{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if fields == nil {
		return LogRecord{}, ErrNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return LogRecord{}, fmt.Errorf("trailing data after JSON object: %w", ErrNotObject)
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	rec := LogRecord{
		Source: source,
		Fields: fields,
		Raw:    raw,
	}
	rec.Timestamp, _ = rec.Field(FieldTimestamp)
	rec.Level, _ = rec.Field(FieldLevel)
	rec.Component, _ = rec.Field(FieldComponent)
	rec.Event, _ = rec.Field(FieldEvent)
	rec.Host, _ = rec.Field(FieldHost)
	if n, ok := fields[FieldPID].(json.Number); ok {
		rec.PID, _ = n.Int64()
	}
	return rec, nil
}

// Returns the stringified value of a top-level field. A JSON null
// reports as absent.
func (r LogRecord) Field(key string) (string, bool) {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		// Objects and arrays compare by their compact encoding
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Returns the nested data object when present
func (r LogRecord) Data() map[string]any {
	m, _ := r.Fields[FieldData].(map[string]any)
	return m
}
