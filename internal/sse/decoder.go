// Package sse decodes framed JSON events from a server-sent-events byte
// stream. It is transport-agnostic: any io.Reader carrying `event:`/`data:`
// line framing works.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one decoded frame. Data holds the raw payload bytes; callers
// decode them into their own typed structures.
type Event struct {
	Type string
	Data []byte
}

// Decoder reads events off a line-framed stream. Frames are terminated by a
// blank line; multi-line data fields are joined with newlines per the SSE
// wire format.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next complete event, or io.EOF once the stream ends.
// Comment lines and unknown fields are skipped; a frame with no data is not
// emitted.
func (d *Decoder) Next() (Event, error) {
	var event Event
	var data [][]byte

	for d.scanner.Scan() {
		line := d.scanner.Bytes()

		if len(bytes.TrimSpace(line)) == 0 {
			if len(data) > 0 || event.Type != "" {
				event.Data = bytes.Join(data, []byte("\n"))
				return event, nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			event.Type = string(value)
		case "data":
			data = append(data, append([]byte(nil), value...))
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(data) > 0 || event.Type != "" {
		event.Data = bytes.Join(data, []byte("\n"))
		return event, nil
	}
	return Event{}, io.EOF
}

func splitField(line []byte) (string, []byte) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), nil
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), value
}
