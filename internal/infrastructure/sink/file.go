package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

const keyframeFlag = 0x01

// FileSink appends reassembled frames to a dump file for offline decoding.
// Each record is a 4-byte big-endian payload length, one flags byte, then the
// AVCC payload. Parameter sets arriving with a keyframe are folded into that
// record ahead of the frame's own units, so a decoder can start at any
// keyframe record.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	log    *zap.SugaredLogger
	frames uint64
	bytes  uint64
	err    error
	closed bool
}

func NewFileSink(path string, logger *zap.SugaredLogger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink file: %w", err)
	}
	return &FileSink{
		file: file,
		buf:  bufio.NewWriterSize(file, 256*1024),
		log:  logger,
	}, nil
}

func (s *FileSink) OnReassembledFrame(frame domain.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}

	var params [][]byte
	if frame.Keyframe && !frame.ParamSets.Empty() {
		params = append(params, frame.ParamSets.SPS...)
		params = append(params, frame.ParamSets.PPS...)
	}

	total := len(frame.Payload)
	for _, p := range params {
		total += 4 + len(p)
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(total))
	if frame.Keyframe {
		header[4] = keyframeFlag
	}

	if err := s.write(header[:]); err != nil {
		return
	}
	for _, p := range params {
		var plen [4]byte
		binary.BigEndian.PutUint32(plen[:], uint32(len(p)))
		if err := s.write(plen[:]); err != nil {
			return
		}
		if err := s.write(p); err != nil {
			return
		}
	}
	if err := s.write(frame.Payload); err != nil {
		return
	}

	s.frames++
	s.bytes += uint64(5 + total)

	// Keyframes mark clean resume points, flush so a crash loses at most
	// one group of pictures.
	if frame.Keyframe {
		if err := s.buf.Flush(); err != nil {
			s.fail(err)
		}
	}
}

// write appends to the buffer, latching the first failure. Later frames are
// dropped silently and the error surfaces from Close.
func (s *FileSink) write(p []byte) error {
	if _, err := s.buf.Write(p); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *FileSink) fail(err error) {
	s.err = err
	s.log.Warnw("frame sink write failed, dropping further frames", "error", err)
}

// Written reports the records and bytes committed so far.
func (s *FileSink) Written() (frames, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.bytes
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	if s.err != nil {
		return fmt.Errorf("failed to write sink file: %w", s.err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush sink file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close sink file: %w", closeErr)
	}
	return nil
}
