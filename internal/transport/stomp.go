package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	stompVersions = "1.2,1.1,1.0"

	subInvite = "sub-invite"
	subState  = "sub-state"
)

var heartbeatFrame = []byte("\n")

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames reads every frame in one transport message. Heart-beats
// produce no frames.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if f == nil {
			continue
		}
		out = append(out, f)
	}
}

func connectFrame(host string, send, recv time.Duration) *frame.Frame {
	return frame.New(frame.CONNECT,
		frame.AcceptVersion, stompVersions,
		frame.Host, host,
		frame.HeartBeat, fmt.Sprintf("%d,%d", send.Milliseconds(), recv.Milliseconds()),
	)
}

func subscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
	)
}

func sendFrame(destination string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

type heartbeat struct {
	send time.Duration
	recv time.Duration
}

// negotiateHeartbeat applies the STOMP rule: each side uses the larger of
// what it offers and what the peer asks for, and zero on either side turns
// that direction off.
func negotiateHeartbeat(send, recv time.Duration, serverHeader string) heartbeat {
	sx, sy := parseHeartbeat(serverHeader)

	var hb heartbeat
	if send > 0 && sy > 0 {
		hb.send = max(send, sy)
	}
	if recv > 0 && sx > 0 {
		hb.recv = max(recv, sx)
	}
	return hb
}

func parseHeartbeat(v string) (time.Duration, time.Duration) {
	parts := strings.Split(strings.TrimSpace(v), ",")
	if len(parts) != 2 {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}
