package cache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// respConn wraps a network connection with the subset of the RESP protocol
// the provider needs: array-of-bulk-strings commands, and simple string,
// bulk string, integer, error, and nil replies (both RESP2 $-1 and RESP3 _).
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type respKind string

const (
	respSimple respKind = "+"
	respBulk   respKind = "$"
	respError  respKind = "-"
	respInt    respKind = ":"
	respNil    respKind = "_"
)

type respReply struct {
	kind respKind
	data []byte
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) command(name string, args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1); err != nil {
		return err
	}
	parts := append([][]byte{[]byte(name)}, args...)
	for _, part := range parts {
		if _, err := fmt.Fprintf(c.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := c.writer.Write(part); err != nil {
			return err
		}
		if _, err := c.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func (c *respConn) reply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	line, err := c.line()
	if err != nil {
		return respReply{}, err
	}
	if len(line) == 0 {
		return respReply{}, fmt.Errorf("empty reply line")
	}

	kind, rest := respKind(line[:1]), line[1:]
	switch kind {
	case respSimple, respInt:
		return respReply{kind: kind, data: []byte(rest)}, nil
	case respError:
		return respReply{}, fmt.Errorf("valkey error: %s", rest)
	case respNil:
		return respReply{kind: respNil}, nil
	case respBulk:
		length, err := strconv.Atoi(rest)
		if err != nil {
			return respReply{}, fmt.Errorf("bad bulk length %q", rest)
		}
		if length < 0 {
			return respReply{kind: respNil}, nil
		}
		payload := make([]byte, length+2)
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			return respReply{}, err
		}
		return respReply{kind: respBulk, data: payload[:length]}, nil
	default:
		return respReply{}, fmt.Errorf("unsupported reply type %q", kind)
	}
}

func (c *respConn) line() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
