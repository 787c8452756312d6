package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gantryci/gantry/api"
)

// EventStream reads run events off a server-sent event response. Recv
// returns io.EOF after the run settles and the server closes the stream.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, scanner: bufio.NewScanner(body)}
}

func (s *EventStream) Recv() (*api.Event, error) {
	for s.scanner.Scan() {
		data, ok := strings.CutPrefix(s.scanner.Text(), "data: ")
		if !ok {
			// blank separators and comment lines carry no event
			continue
		}
		var ev api.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		return &ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *EventStream) Close() error {
	return s.body.Close()
}
