package gen

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// sseDoneMarker terminates an SSE stream per the OpenAI-style convention.
const sseDoneMarker = "[DONE]"

// maxSSELineSize bounds a single SSE line. Delta payloads are small; a line
// this large means the stream is broken.
const maxSSELineSize = 1 << 20

// ReadSSE consumes a server-sent-events stream from r, calling emit with the
// payload of every data line until the stream ends or the [DONE] marker is
// read. Non-data lines (comments, event names, blank keep-alives) are
// skipped. A non-nil error from emit aborts the read and is returned.
func ReadSSE(r io.Reader, emit func(data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == sseDoneMarker {
			return nil
		}
		if data == "" {
			continue
		}
		if err := emit(data); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: reading event stream: %w", ErrNetwork, err)
	}
	return nil
}
