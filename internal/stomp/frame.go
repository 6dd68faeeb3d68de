// Package stomp encodes and decodes STOMP 1.2 frames carried one per
// websocket text message.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Client and server commands used by the chat bus.
const (
	Connect     = "CONNECT"
	Connected   = "CONNECTED"
	Subscribe   = "SUBSCRIBE"
	Unsubscribe = "UNSUBSCRIBE"
	Send        = "SEND"
	Message     = "MESSAGE"
	Receipt     = "RECEIPT"
	Error       = "ERROR"
	Disconnect  = "DISCONNECT"
)

// ErrMalformedFrame is returned for input that is not a STOMP frame.
var ErrMalformedFrame = errors.New("malformed stomp frame")

// Header is an ordered list of key/value pairs. The first occurrence of a key
// wins, as STOMP requires.
type Header [][2]string

// Get returns the first value for key.
func (h Header) Get(key string) string {
	for _, kv := range h {
		if kv[0] == key {
			return kv[1]
		}
	}
	return ""
}

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Header  Header
	Body    []byte
}

// New builds a frame from alternating header keys and values.
func New(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header = append(f.Header, [2]string{kv[i], kv[i+1]})
	}
	return f
}

// Marshal renders the frame including the trailing NUL.
func (f Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for _, kv := range f.Header {
		if f.Command == Connect || f.Command == Connected {
			// CONNECT and CONNECTED headers are not escaped.
			buf.WriteString(kv[0] + ":" + kv[1])
		} else {
			buf.WriteString(escape(kv[0]) + ":" + escape(kv[1]))
		}
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Header.Get("content-length") == "" {
		fmt.Fprintf(&buf, "content-length:%d\n", len(f.Body))
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Unmarshal parses one frame. A lone EOL is a heart-beat and yields a frame
// with an empty Command.
func Unmarshal(data []byte) (Frame, error) {
	// Leading EOLs are heart-beats preceding the frame.
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return Frame{}, nil
	}

	sep := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (sep < 0 || crlf < sep) {
		sep, sepLen = crlf, 4
	}
	if sep < 0 {
		return Frame{}, ErrMalformedFrame
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:sep]), "\r\n", "\n"), "\n")
	if lines[0] == "" {
		return Frame{}, ErrMalformedFrame
	}

	f := Frame{Command: lines[0]}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("%w: header %q", ErrMalformedFrame, line)
		}
		if f.Command != Connect && f.Command != Connected {
			k, v = unescape(k), unescape(v)
		}
		f.Header = append(f.Header, [2]string{k, v})
	}

	// content-length, when present, bounds the body, which may then hold NULs.
	body := data[sep+sepLen:]
	if cl := f.Header.Get("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Frame{}, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, cl)
		}
		if n >= len(body) || body[n] != 0 {
			return Frame{}, fmt.Errorf("%w: body does not match content-length %d", ErrMalformedFrame, n)
		}
		body = body[:n]
	} else if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	if len(body) > 0 {
		f.Body = append([]byte(nil), body...)
	}
	return f, nil
}

var (
	escaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	unescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }
