package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxLineBytes bounds one control line. Anything longer is a protocol
// violation, not a framing accident.
const MaxLineBytes = 64 * 1024

// WriteMessage appends one newline-delimited JSON message to w.
func WriteMessage(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write control message: %w", err)
	}
	return nil
}

// LineReader yields decoded control messages from a connection, one per
// line.
type LineReader struct {
	scanner *bufio.Scanner
}

func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), MaxLineBytes)
	return &LineReader{scanner: sc}
}

// Next reads the next message. Transport errors come back wrapped; an
// over-long or malformed line comes back as *ProtocolError.
func (lr *LineReader) Next() (*Message, error) {
	for {
		if !lr.scanner.Scan() {
			if err := lr.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return nil, &ProtocolError{Reason: "line exceeds limit"}
				}
				return nil, fmt.Errorf("read control stream: %w", err)
			}
			return nil, io.EOF
		}
		line := lr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return DecodeMessage(line)
	}
}

// IsTimeout reports whether err is a network read deadline expiry, which the
// heartbeat watchdogs use to declare a link dead.
func IsTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
