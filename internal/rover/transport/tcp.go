package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
)

// TCPDialer connects to a plain TCP command endpoint. Records are
// newline-delimited.
type TCPDialer struct {
	Options
}

// Dial implements Dialer
func (d *TCPDialer) Dial(ctx context.Context, ep core.Endpoint) (Conn, error) {
	opts := d.Options.withDefaults()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "tcp dial %s", ep.Address())
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return newTCPConn(conn, opts), nil
}

type tcpConn struct {
	*pump
	conn net.Conn
}

func newTCPConn(conn net.Conn, opts Options) *tcpConn {
	log := util.ComponentLogger("transport").WithField("remote", conn.RemoteAddr().String())
	c := &tcpConn{conn: conn}
	c.pump = newPump(opts.SendBuffer, conn.Close, log)

	go c.writeLoop(func(data []byte) error {
		line := make([]byte, 0, len(data)+1)
		line = append(append(line, data...), '\n')
		conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		_, err := conn.Write(line)
		return err
	})

	scanner := bufio.NewScanner(conn)
	go c.readLoop(func() error {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return errors.Wrap(err, "read failed")
			}
			return errors.Wrap(io.EOF, "closed by vehicle")
		}
		log.WithField("size", len(scanner.Bytes())).Debug("Vehicle message received")
		return nil
	})
	return c
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
