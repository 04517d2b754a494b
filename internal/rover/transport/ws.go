package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/josefmoeggis/RobotGUI/internal/version"
	"github.com/pkg/errors"
)

// WSDialer connects to the vehicle command endpoint over WebSocket, one
// text message per command record.
type WSDialer struct {
	Options
}

// Dial implements Dialer
func (d *WSDialer) Dial(ctx context.Context, ep core.Endpoint) (Conn, error) {
	opts := d.Options.withDefaults()
	u := url.URL{Scheme: "ws", Host: ep.Address(), Path: opts.Path}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	header := http.Header{"User-Agent": []string{version.UserAgent()}}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake with %s returned %s", u.String(), resp.Status)
		}
		return nil, errors.Wrapf(err, "websocket dial %s", u.String())
	}
	return newWSConn(ws, opts), nil
}

type wsConn struct {
	*pump
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn, opts Options) *wsConn {
	log := util.ComponentLogger("transport").WithField("remote", ws.RemoteAddr().String())
	c := &wsConn{ws: ws}
	c.pump = newPump(opts.SendBuffer, c.closeSocket, log)

	go c.writeLoop(func(data []byte) error {
		ws.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	})
	go c.readLoop(func() error {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.Wrap(err, "closed by vehicle")
			}
			return errors.Wrap(err, "read failed")
		}
		log.WithField("size", len(msg)).Debug("Vehicle message received")
		return nil
	})
	return c
}

func (c *wsConn) closeSocket() error {
	deadline := time.Now().Add(100 * time.Millisecond)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
