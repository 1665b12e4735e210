package server

import "io"

// The controller UI only ever needs these two answers. Responses carry
// no content-length, the connection close marks the end of the body.
const (
	statusOK       = "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n"
	statusNotFound = "HTTP/1.1 404 Not Found\r\n\r\n"
)

func writeOK(w io.Writer, body []byte) error {
	if _, err := io.WriteString(w, statusOK); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

func writeNotFound(w io.Writer) error {
	_, err := io.WriteString(w, statusNotFound)
	return err
}
