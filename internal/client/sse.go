package client

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/protocol"
)

// sseStream reads Server-Sent Events frames off an open response body and
// decodes each data payload into a typed event.
//
// Wire format per frame:
//
//	event: message
//	data: {"type": "token", "properties": {...}}
//	<blank line>
//
// Heartbeat comments (lines starting with ':') are skipped. A malformed
// data payload drops that single frame and keeps reading; only a transport
// error ends the stream.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	log     zerolog.Logger
}

// maxFrameSize bounds one SSE line. Token deltas are tiny; debug payloads
// can carry full prompts.
const maxFrameSize = 1 << 20

func newSSEStream(body io.ReadCloser, log zerolog.Logger) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &sseStream{body: body, scanner: scanner, log: log}
}

// Recv returns the next decoded event, io.EOF at clean end of stream, or
// the transport error.
func (s *sseStream) Recv() (protocol.Event, error) {
	var data strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()

		switch {
		case line == "":
			// Frame boundary.
			if data.Len() == 0 {
				continue
			}
			ev, err := protocol.Decode([]byte(data.String()))
			if err != nil {
				if errors.Is(err, protocol.ErrMalformedFrame) {
					s.log.Warn().Err(err).Msg("dropping malformed frame")
					data.Reset()
					continue
				}
				return protocol.Event{}, err
			}
			return ev, nil

		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// "event:" and other fields carry no payload we need.
		}
	}

	if err := s.scanner.Err(); err != nil {
		return protocol.Event{}, err
	}
	return protocol.Event{}, io.EOF
}

// Close releases the underlying response body.
func (s *sseStream) Close() error {
	return s.body.Close()
}
