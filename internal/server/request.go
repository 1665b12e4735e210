package server

import (
	"bytes"
	"strings"
)

// Request is the parsed form of one inbound exchange. Body aliases the
// receive buffer and is only valid until the connection closes.
type Request struct {
	Method string
	Path   string
	Proto  string
	Body   []byte
	Valid  bool
}

var (
	crlfSeparator = []byte("\r\n\r\n")
	lfSeparator   = []byte("\n\n")
)

// headerEnd returns the index just past the header terminator, or -1
// when the buffer holds no complete header block yet.
func headerEnd(buf []byte) int {
	if i := bytes.Index(buf, crlfSeparator); i >= 0 {
		return i + len(crlfSeparator)
	}
	if i := bytes.Index(buf, lfSeparator); i >= 0 {
		return i + len(lfSeparator)
	}
	return -1
}

// parseRequest extracts the request line and body slice from a raw
// receive buffer. A buffer without a parseable first line yields an
// invalid Request and the caller closes the connection without
// answering. Header fields beyond the first line are ignored.
func parseRequest(buf []byte) Request {
	var req Request
	if len(buf) == 0 {
		return req
	}

	head := buf
	if end := headerEnd(buf); end >= 0 {
		head = buf[:end]
		req.Body = buf[end:]
	}

	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	fields := strings.Fields(string(bytes.TrimRight(line, "\r")))
	if len(fields) < 2 {
		return req
	}

	req.Method = fields[0]
	req.Path = fields[1]
	if len(fields) > 2 {
		req.Proto = fields[2]
	}
	req.Valid = true
	return req
}
