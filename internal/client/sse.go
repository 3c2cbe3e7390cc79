// File: internal/client/sse.go
package client

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// sseReader decodes an event stream. Comment lines (keepalives) are skipped.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next complete event. A stream that ends mid-event
// yields io.ErrUnexpectedEOF.
func (s *sseReader) Next() (Event, error) {
	var ev Event
	var data []string
	pending := false

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && (pending || line != "") {
				return Event{}, io.ErrUnexpectedEOF
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !pending {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Event == "" {
				ev.Event = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
			pending = true
		case "event":
			ev.Event = value
			pending = true
		case "data":
			data = append(data, value)
			pending = true
		}
	}
}
