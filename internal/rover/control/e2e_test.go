package control

import (
	"context"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/sim"
	"github.com/josefmoeggis/RobotGUI/internal/rover/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndOverWebSocket(t *testing.T) {
	vehicle := sim.NewVehicle(sim.Options{})
	srv := httptest.NewServer(vehicle.Handler())
	defer srv.Close()

	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)

	dialer, err := transport.NewDialer("ws", transport.Options{})
	require.NoError(t, err)
	c := NewChannel(dialer, DefaultOptions())
	defer c.Close()

	var mu sync.Mutex
	var transitions []string
	c.OnStateChange(func(from, to core.State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	})

	require.NoError(t, c.Open(ep))
	waitState(t, c, core.StateConnected)

	require.NoError(t, c.Send(core.Command{Kind: core.KindBeta, Value: 12.5}))
	require.NoError(t, c.Send(core.Command{Kind: core.KindSpeed, Value: 128}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := vehicle.Recorder().Wait(ctx, 2)
	require.NoError(t, err)

	byKind := map[core.Kind]float64{}
	for _, r := range records {
		byKind[r.Command.Kind] = r.Command.Value
		assert.False(t, r.Command.Timestamp.IsZero())
	}
	assert.Equal(t, 12.5, byKind[core.KindBeta])
	assert.Equal(t, 128.0, byKind[core.KindSpeed])

	mu.Lock()
	assert.Equal(t, []string{"disconnected->connecting", "connecting->connected"}, transitions)
	mu.Unlock()
}

func TestEndToEndOverTCP(t *testing.T) {
	vehicle := sim.NewVehicle(sim.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vehicle.ServeTCP(ctx, ln)

	ep, err := core.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)

	dialer, err := transport.NewDialer("tcp", transport.Options{})
	require.NoError(t, err)
	c := NewChannel(dialer, DefaultOptions())
	defer c.Close()

	require.NoError(t, c.Open(ep))
	waitState(t, c, core.StateConnected)
	require.NoError(t, c.Send(core.Command{Kind: core.KindSpeed, Value: -200}))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	records, err := vehicle.Recorder().Wait(waitCtx, 1)
	require.NoError(t, err)
	assert.Equal(t, -200.0, records[0].Command.Value)
}

func TestReconnectsAfterVehicleDropsLink(t *testing.T) {
	vehicle := sim.NewVehicle(sim.Options{})
	srv := httptest.NewServer(vehicle.Handler())
	defer srv.Close()

	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)

	dialer, err := transport.NewDialer("ws", transport.Options{})
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.RetryDelay = 10 * time.Millisecond
	c := NewChannel(dialer, opts)
	defer c.Close()

	require.NoError(t, c.Open(ep))
	waitState(t, c, core.StateConnected)
	first := c.SessionID()

	require.Eventually(t, func() bool { return vehicle.Connections() == 1 }, time.Second, 5*time.Millisecond)
	vehicle.DropConnections()

	require.Eventually(t, func() bool {
		return c.State() == core.StateConnected && vehicle.Connections() == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, first, c.SessionID(), "a reconnect belongs to the same session")
	assert.Equal(t, 0, c.RetryCount())
}
