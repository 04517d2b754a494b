package video

import (
	"testing"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func picture(seq uint64) Picture {
	return Picture{Frame: core.Frame{Sequence: seq}, ContentType: "image/jpeg"}
}

func TestBroadcasterReplaysLatestPicture(t *testing.T) {
	b := NewBroadcaster()
	b.Broadcast(picture(1))
	b.Broadcast(picture(2))

	ch, cancel := b.Subscribe(4)
	defer cancel()

	got := <-ch
	assert.Equal(t, uint64(2), got.Frame.Sequence)

	b.Broadcast(picture(3))
	got = <-ch
	assert.Equal(t, uint64(3), got.Frame.Sequence)
}

func TestBroadcasterSlowSubscriberMissesFrames(t *testing.T) {
	b := NewBroadcaster()
	slow, cancelSlow := b.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(8)
	defer cancelFast()

	for seq := uint64(1); seq <= 5; seq++ {
		b.Broadcast(picture(seq))
	}

	assert.Equal(t, 2, b.SubscriberCount())
	assert.Len(t, slow, 1)
	assert.Equal(t, uint64(1), (<-slow).Frame.Sequence)
	assert.Len(t, fast, 5)
}

func TestBroadcasterUnsubscribeAndClose(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(0)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	other, _ := b.Subscribe(1)
	b.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	b.Broadcast(picture(9))
}

func TestBufferFansOutCommittedFrames(t *testing.T) {
	buf := NewBuffer(BufferOptions{})
	ch, cancel := buf.Subscribe(4)
	defer cancel()

	require.NoError(t, buf.OnFrame(frame(1)))
	assert.Error(t, buf.OnFrame(frame(1)))
	require.NoError(t, buf.OnFrame(frame(2)))

	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(1), (<-ch).Frame.Sequence)
	assert.Equal(t, uint64(2), (<-ch).Frame.Sequence)
}
