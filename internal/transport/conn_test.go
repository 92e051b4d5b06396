package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campusguess/battle-client/pkg/types"
)

func newTestConn(t *testing.T, d Dialer, tweak func(*Options)) *Conn {
	t.Helper()
	opts := Options{
		BaseURL:        "http://battle.test/api",
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	}
	if tweak != nil {
		tweak(&opts)
	}
	c := New(d, opts)
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnect_SharesOneHandshake(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c := newTestConn(t, d, nil)

	hs1 := c.Connect("alice")
	hs2 := c.Connect("alice")
	require.Same(t, hs1, hs2)
	assert.Equal(t, StateConnecting, c.State())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnsureConnected(context.Background(), time.Second)
		}(i)
	}

	close(d.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NoError(t, waitHandshake(t, hs1, time.Second))
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "http://battle.test/api/ws-battle?username=alice", d.lastEndpoint())

	subs := d.socket(0).written(frame.SUBSCRIBE)
	require.Len(t, subs, 2)
	assert.Equal(t, types.TopicInvite, subs[0].Header.Get(frame.Destination))
	assert.Equal(t, types.TopicState, subs[1].Header.Get(frame.Destination))

	connect := d.socket(0).written(frame.CONNECT)
	require.Len(t, connect, 1)
	assert.Equal(t, "1.2,1.1,1.0", connect[0].Header.Get(frame.AcceptVersion))
}

func TestConnect_ConnectedSameIdentityIsNoop(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	require.NoError(t, waitHandshake(t, c.Connect("alice"), time.Second))
	require.NoError(t, waitHandshake(t, c.Connect("alice"), time.Second))
	assert.Equal(t, 1, d.dialCount())
}

func TestConnect_EmptyIdentity(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	err := waitHandshake(t, c.Connect("   "), time.Second)
	require.ErrorIs(t, err, ErrNoIdentity)
	assert.Equal(t, 0, d.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_IdentityChangeReconnects(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	require.NoError(t, waitHandshake(t, c.Connect("alice"), time.Second))
	first := d.socket(0)

	require.NoError(t, waitHandshake(t, c.Connect("bob"), time.Second))
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, "bob", c.Identity())
	assert.Contains(t, d.lastEndpoint(), "username=bob")
	requireEventually(t, first.isClosed, "old socket should be closed")
}

func TestDisconnect_CancelsPendingHandshake(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c := newTestConn(t, d, nil)

	hs := c.Connect("alice")
	c.Disconnect()

	err := waitHandshake(t, hs, time.Second)
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Identity())

	// A late dial result must not revive the connection.
	close(d.gate)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestEnsureConnected_Timeout(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c := newTestConn(t, d, nil)

	c.Connect("alice")
	err := c.EnsureConnected(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, d.dialCount())
}

func TestEnsureConnected_NoIdentity(t *testing.T) {
	c := newTestConn(t, &fakeDialer{}, nil)
	require.ErrorIs(t, c.EnsureConnected(context.Background(), time.Second), ErrNoIdentity)
}

func TestEnsureConnected_CallerContext(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c := newTestConn(t, d, nil)
	c.Connect("alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.EnsureConnected(ctx, time.Second), context.Canceled)
}

func TestHandshake_ErrorFrameRejects(t *testing.T) {
	d := &fakeDialer{reject: "bad login"}
	c := newTestConn(t, d, func(o *Options) { o.ReconnectDelay = time.Hour })

	err := waitHandshake(t, c.Connect("alice"), time.Second)
	require.ErrorIs(t, err, ErrProtocol)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "connect", ce.Op)
	assert.Contains(t, err.Error(), "bad login")
	assert.Equal(t, StateConnecting, c.State())
}

func TestHandshake_DialFailureRetries(t *testing.T) {
	d := &fakeDialer{fail: errors.New("refused")}
	c := newTestConn(t, d, nil)

	err := waitHandshake(t, c.Connect("alice"), time.Second)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "dial", ce.Op)

	requireEventually(t, func() bool { return d.dialCount() >= 3 }, "should keep retrying")
}

func TestPublish_WritesSendFrame(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)
	c.Connect("alice")

	req := types.InviteRequest{FromUsername: "alice", ToUsername: "bob"}
	require.NoError(t, c.Publish(context.Background(), types.DestInvite, req))

	sends := d.socket(0).written(frame.SEND)
	require.Len(t, sends, 1)
	assert.Equal(t, types.DestInvite, sends[0].Header.Get(frame.Destination))
	assert.Equal(t, "application/json", sends[0].Header.Get(frame.ContentType))

	var got types.InviteRequest
	require.NoError(t, json.Unmarshal(sends[0].Body, &got))
	assert.Equal(t, req, got)
}

func TestPublish_NilBodyIsEmptyObject(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)
	c.Connect("alice")

	require.NoError(t, c.Publish(context.Background(), types.DestQuit, nil))
	sends := d.socket(0).written(frame.SEND)
	require.Len(t, sends, 1)
	assert.JSONEq(t, `{}`, string(sends[0].Body))
}

func TestPublish_WithoutIdentity(t *testing.T) {
	c := newTestConn(t, &fakeDialer{}, nil)
	err := c.Publish(context.Background(), types.DestQuit, nil)
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestSubscribeConnection_ReplaysAndTracks(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	statuses := make(chan bool, 8)
	unsub := c.SubscribeConnection(func(v bool) { statuses <- v })
	defer unsub()

	assert.False(t, recvValue(t, statuses, time.Second))

	c.Connect("alice")
	assert.True(t, recvValue(t, statuses, time.Second))

	c.Disconnect()
	assert.False(t, recvValue(t, statuses, time.Second))

	// Disconnect while already disconnected still notifies.
	c.Disconnect()
	assert.False(t, recvValue(t, statuses, time.Second))
}

func TestMessages_MalformedDroppedNextDelivered(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	states := make(chan types.BattleMessage, 8)
	c.SubscribeState(func(m types.BattleMessage) { states <- m })
	invites := make(chan types.InviteMessage, 8)
	c.SubscribeInvite(func(m types.InviteMessage) { invites <- m })

	require.NoError(t, waitHandshake(t, c.Connect("alice"), time.Second))
	s := d.socket(0)

	bad := frame.New(frame.MESSAGE, frame.Subscription, subState, frame.Destination, types.TopicState)
	bad.Body = []byte("{not json")
	s.push(bad)

	good := frame.New(frame.MESSAGE, frame.Subscription, subState, frame.Destination, types.TopicState)
	good.Body = []byte(`{"type":"GAME_START","roomCode":"R1","playerA":"alice","playerB":"bob"}`)
	s.push(good)

	inv := frame.New(frame.MESSAGE, frame.Subscription, subInvite, frame.Destination, types.TopicInvite)
	inv.Body = []byte(`{"roomCode":"R2","playerA":"carol","playerB":"alice"}`)
	s.push(inv)

	m := recvValue(t, states, time.Second)
	assert.Equal(t, types.TypeGameStart, m.Type)
	assert.Equal(t, "R1", m.RoomCode)
	expectNone(t, states, 30*time.Millisecond)

	i := recvValue(t, invites, time.Second)
	assert.Equal(t, "R2", i.RoomCode)
	assert.Equal(t, "carol", i.From())
	assert.Equal(t, StateConnected, c.State())
}

func TestMessages_HeartbeatIgnored(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	states := make(chan types.BattleMessage, 8)
	c.SubscribeState(func(m types.BattleMessage) { states <- m })
	require.NoError(t, waitHandshake(t, c.Connect("alice"), time.Second))

	d.socket(0).pushRaw("\n")
	expectNone(t, states, 30*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())
}

func TestReconnect_AfterDrop(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	statuses := make(chan bool, 8)
	c.SubscribeConnection(func(v bool) { statuses <- v })
	assert.False(t, recvValue(t, statuses, time.Second))

	c.Connect("alice")
	assert.True(t, recvValue(t, statuses, time.Second))

	_ = d.socket(0).Close()
	assert.False(t, recvValue(t, statuses, time.Second))
	assert.True(t, recvValue(t, statuses, time.Second))

	assert.Equal(t, 2, d.dialCount())
	require.NoError(t, c.EnsureConnected(context.Background(), time.Second))
}

func TestReconnect_ErrorFrameDropsConnection(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, nil)

	statuses := make(chan bool, 8)
	c.SubscribeConnection(func(v bool) { statuses <- v })
	<-statuses

	c.Connect("alice")
	assert.True(t, recvValue(t, statuses, time.Second))

	d.socket(0).push(frame.New(frame.ERROR, frame.Message, "session expired"))
	assert.False(t, recvValue(t, statuses, time.Second))
	assert.True(t, recvValue(t, statuses, time.Second))
}

func TestConnect_BadBaseURLGivesUp(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, d, func(o *Options) { o.BaseURL = "not a url" })

	err := waitHandshake(t, c.Connect("alice"), time.Second)
	require.Error(t, err)
	assert.Equal(t, 0, d.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}
