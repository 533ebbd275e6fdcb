package transport

import "bytes"

// maxPending bounds an unterminated line on stream links.
const maxPending = 4096

// LineBuffer reassembles newline-terminated frames from a byte stream.
// Stream links (serial, TCP) have no message boundaries, unlike GATT
// notifications.
type LineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns every complete line, terminator included.
// An unterminated tail longer than maxPending is discarded.
func (l *LineBuffer) Feed(chunk []byte) [][]byte {
	l.pending = append(l.pending, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i+1)
		copy(line, l.pending[:i+1])
		lines = append(lines, line)
		l.pending = l.pending[i+1:]
	}

	if len(l.pending) > maxPending {
		l.pending = nil
	}
	if len(l.pending) == 0 {
		l.pending = nil
	}
	return lines
}

// Reset drops any partial line.
func (l *LineBuffer) Reset() {
	l.pending = nil
}
