package ircd

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// maxBufferedLine is the cap on how much unterminated input we will buffer
// for a single client before giving up on it. The protocol itself has no
// hard limit beyond this.
const maxBufferedLine = 8192

// errBufferOverflow means a client sent us more than maxBufferedLine bytes
// without a CRLF in the middle.
var errBufferOverflow = errors.New("line buffer overflow")

// conn wraps a TCP connection and is responsible for framing: turning a
// stream of bytes into complete, CRLF-terminated protocol lines, buffering
// whatever partial line remains between reads.
type conn struct {
	nc net.Conn
	r  *bufio.Reader
	w  *bufio.Writer

	// ioWait is the read deadline for each recv attempt. Only the client's
	// own read-loop goroutine ever reads or writes it, so it needs no
	// synchronization even though handleClientTimeout adjusts it between the
	// ping and dead-time stages.
	ioWait time.Duration

	// writeWait is a fixed write deadline, separate from ioWait because
	// writeMessage is called from the client's write-loop goroutine, which
	// runs concurrently with the read loop that mutates ioWait.
	writeWait time.Duration

	// buf holds bytes read but not yet split into a complete line.
	buf []byte

	IP net.IP
}

// utf8Validator checks each chunk is well-formed UTF-8, reporting an error
// for malformed input instead of silently admitting invalid bytes into the
// client's line buffer.
var utf8Validator = encoding.UTF8Validator

func newConn(nc net.Conn, ioWait time.Duration) (*conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", nc.RemoteAddr().String())
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve remote address")
	}

	return &conn{
		nc:        nc,
		r:         bufio.NewReader(nc),
		w:         bufio.NewWriter(nc),
		ioWait:    ioWait,
		writeWait: ioWait,
		IP:        tcpAddr.IP,
	}, nil
}

func (c *conn) Close() error {
	return c.nc.Close()
}

func (c *conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// readResult enumerates the outcomes of one read attempt, replacing the
// exception-driven control flow ("timeout", "closed", "decode error") that
// the source language uses with explicit values.
type readResult int

const (
	readData readResult = iota
	readTimeout
	readClosed
	readDecodeError
	readOverflow
)

// readLine tries to produce one complete, trimmed protocol line from
// buffered and newly-read bytes. It may need to perform more than one recv
// to find a CRLF, so it loops internally; each individual recv is bounded by
// ioWait.
//
// An empty line (after trimming) is treated as readData with an empty
// string; callers ignore blank lines per spec.
func (c *conn) readLine() (string, readResult, error) {
	for {
		if line, ok := c.takeLine(); ok {
			return line, readData, nil
		}

		if len(c.buf) >= maxBufferedLine {
			return "", readOverflow, errBufferOverflow
		}

		if err := c.nc.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
			return "", readClosed, errors.Wrap(err, "unable to set read deadline")
		}

		chunk := make([]byte, 4096)
		n, err := c.r.Read(chunk)
		if n > 0 {
			valid, decodeErr := decodeUTF8(chunk[:n])
			if decodeErr != nil {
				log.Printf("%s: skipping chunk with invalid UTF-8: %s", c.RemoteAddr(), decodeErr)
				// Skip this chunk entirely and keep reading, per the framer spec:
				// an undecodable chunk is discarded, not fatal to the connection.
			} else {
				c.buf = append(c.buf, valid...)
			}
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", readTimeout, err
			}
			if err == io.EOF {
				return "", readClosed, err
			}
			return "", readClosed, err
		}
	}
}

// decodeUTF8 validates a chunk is well-formed UTF-8, returning it unchanged
// on success. Malformed input is reported as an error rather than silently
// passed through or lossily replaced.
func decodeUTF8(b []byte) ([]byte, error) {
	out, _, err := transform.Bytes(utf8Validator, b)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// takeLine splits everything up to the first CRLF off c.buf, if any, and
// returns it trimmed of surrounding whitespace. Partial lines are left in
// the buffer for the next call.
func (c *conn) takeLine() (string, bool) {
	idx := indexCRLF(c.buf)
	if idx == -1 {
		return "", false
	}

	raw := c.buf[:idx]
	c.buf = append([]byte(nil), c.buf[idx+2:]...)

	return strings.TrimSpace(string(raw)), true
}

func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// writeMessage encodes and writes a single protocol message, enforcing the
// fixed writeWait deadline.
func (c *conn) writeMessage(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return errors.Wrap(err, "unable to encode message")
	}

	if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return errors.Wrap(err, "unable to set write deadline")
	}

	if _, err := c.w.WriteString(buf); err != nil {
		return err
	}

	return c.w.Flush()
}
