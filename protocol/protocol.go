// Package protocol implements the text side of the console's debug monitor
// protocol (XBDM).
//
// Every exchange is a CRLF-terminated command line from the client answered by
// a status line of the form "NNN- text". Some statuses announce a follow-up:
//
//	202- multiline response follows   → lines until a lone "."
//	203- binary response follows      → raw bytes of a size known to the caller
//	204- send binary data             → the client uploads raw bytes next
//
// Status codes follow the HTTP convention: 2xx succeeded, 4xx failed.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"xbdm-loader/rpcerr"
)

// DefaultPort is the TCP port the debug monitor listens on.
const DefaultPort = 730

// Status codes sent by the debug monitor.
const (
	StatusOK             = 200
	StatusConnected      = 201 // Greeting sent on accept
	StatusMultiline      = 202
	StatusBinary         = 203
	StatusSendBinary     = 204 // Client must upload a binary block next
	StatusDedicated      = 205
	StatusUnexpected     = 400
	StatusMaxConnections = 401
	StatusFileNotFound   = 402
	StatusNoSuchModule   = 403
	StatusNotMapped      = 404
	StatusNoSuchThread   = 405
	StatusUnknownCommand = 407
	StatusNotStopped     = 408
	StatusAccessDenied   = 414
)

// EndOfMultiline terminates a 202 response body.
const EndOfMultiline = "."

// Response is one parsed status line.
type Response struct {
	Code int
	Text string // Everything after "NNN- "
	Raw  string // The line as received, without CRLF
}

// Success reports whether the status is in the 2xx class.
func (r *Response) Success() bool {
	return r.Code >= 200 && r.Code < 300
}

func (r *Response) String() string {
	return r.Raw
}

var statusLine = regexp.MustCompile(`^([1-5][0-9]{2})- ?(.*)$`)

// ParseResponse parses a single status line. A line that does not look like
// "NNN- text" is a ProtocolError.
func ParseResponse(line string) (*Response, error) {
	raw := strings.TrimRight(line, "\r\n")
	m := statusLine.FindStringSubmatch(raw)
	if m == nil {
		return nil, rpcerr.Protocol("malformed status line", raw)
	}
	code, _ := strconv.Atoi(m[1])
	return &Response{Code: code, Text: m[2], Raw: raw}, nil
}

// ReadResponse reads and parses the next status line from r.
// I/O errors are returned unwrapped so the transport can classify them.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return ParseResponse(line)
}

// ReadMultiline reads the body of a 202 response up to and excluding the
// terminating "." line.
func ReadMultiline(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == EndOfMultiline {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// WriteCommand writes one command line to w.
func WriteCommand(w io.Writer, command string) error {
	if strings.ContainsAny(command, "\r\n") {
		return rpcerr.New(rpcerr.KindPrecondition, fmt.Sprintf("command %q contains a line break", command))
	}
	_, err := io.WriteString(w, command+"\r\n")
	return err
}

// WriteResponse writes one status line to w. Used by the console side.
func WriteResponse(w io.Writer, code int, text string) error {
	_, err := fmt.Fprintf(w, "%d- %s\r\n", code, text)
	return err
}

// WriteMultiline writes a 202 status line, the body lines, and the terminator.
func WriteMultiline(w io.Writer, lines []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d- multiline response follows\r\n", StatusMultiline)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(EndOfMultiline + "\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

var bufAddr = regexp.MustCompile(`^buf_addr=(?:0x)?([0-9A-Fa-f]{1,16})$`)

// ParseBufAddr extracts the remote scratch buffer address from the reply to
// an rpc command ("204- buf_addr=3A174C30"). Anything else is a ProtocolError.
func ParseBufAddr(resp *Response) (uint64, error) {
	if resp.Code != StatusSendBinary {
		return 0, rpcerr.Protocol(fmt.Sprintf("expected status %d with buf_addr, got %d", StatusSendBinary, resp.Code), resp.Raw)
	}
	m := bufAddr.FindStringSubmatch(strings.TrimSpace(resp.Text))
	if m == nil {
		return 0, rpcerr.Protocol("reply carries no buf_addr", resp.Raw)
	}
	addr, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return 0, rpcerr.Protocol("buf_addr is not a valid address", resp.Raw)
	}
	return addr, nil
}
