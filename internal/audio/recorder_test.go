package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	started atomic.Int32
	closed  atomic.Int32
}

func (s *fakeStream) Start() { s.started.Add(1) }
func (s *fakeStream) Close() { s.closed.Add(1) }

type fakeOpener struct {
	mu      sync.Mutex
	err     error
	device  string
	format  engine.AudioFormat
	writer  io.Writer
	streams []*fakeStream
}

func (o *fakeOpener) open(_ context.Context, device string, format engine.AudioFormat, w io.Writer) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.device = device
	o.format = format
	o.writer = w
	s := &fakeStream{}
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) write(t *testing.T, b []byte) {
	t.Helper()
	o.mu.Lock()
	w := o.writer
	o.mu.Unlock()
	_, err := w.Write(b)
	require.NoError(t, err)
}

func newTestRecorder(opener *fakeOpener, frames chan<- []byte) *Recorder {
	return NewRecorder(RecorderOptions{
		OnFrame:      func(b []byte) { frames <- b },
		StallTimeout: time.Hour,
		Open:         opener.open,
	})
}

func TestRecorderDeliversFixedFrames(t *testing.T) {
	opener := &fakeOpener{}
	frames := make(chan []byte, 8)
	rec := newTestRecorder(opener, frames)

	require.NoError(t, rec.SetDevice("usb-mic", engine.AudioFormat{Type: engineabi.AudioTypePCMS16LE, Rate: 16000, Channels: 1}))
	require.NoError(t, rec.Start())
	require.True(t, rec.Recording())
	require.Equal(t, "usb-mic", opener.device)
	require.Equal(t, int32(1), opener.streams[0].started.Load())

	opener.write(t, make([]byte, 640*2+100))
	for i := 0; i < 2; i++ {
		select {
		case frame := <-frames:
			require.Len(t, frame, 640)
		case <-time.After(time.Second):
			t.Fatal("frame not delivered")
		}
	}

	require.NoError(t, rec.Stop())
	require.False(t, rec.Recording())
	require.Equal(t, int32(1), opener.streams[0].closed.Load())
}

func TestRecorderStartWhileRecordingIsBusy(t *testing.T) {
	opener := &fakeOpener{}
	rec := newTestRecorder(opener, make(chan []byte, 1))

	require.NoError(t, rec.Start())
	require.ErrorIs(t, rec.Start(), vcerr.ErrRecorderBusy)
	require.Len(t, opener.streams, 1)
	require.NoError(t, rec.Stop())
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	opener := &fakeOpener{}
	rec := newTestRecorder(opener, make(chan []byte, 1))

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())
	require.Equal(t, int32(1), opener.streams[0].closed.Load())
}

func TestRecorderRejectsDeviceChangeWhileRecording(t *testing.T) {
	opener := &fakeOpener{}
	rec := newTestRecorder(opener, make(chan []byte, 1))
	require.NoError(t, rec.Start())

	err := rec.SetDevice("other", engine.AudioFormat{Rate: 16000, Channels: 1})
	require.ErrorIs(t, err, vcerr.ErrInvalidState)
	require.ErrorIs(t, rec.SetAudioType("other"), vcerr.ErrInvalidState)
	require.Equal(t, DefaultDeviceID, rec.CurrentDeviceID())

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.SetAudioType("  "))
	require.Equal(t, DefaultDeviceID, rec.CurrentDeviceID())
	require.NoError(t, rec.SetAudioType("bluetooth"))
	require.Equal(t, "bluetooth", rec.CurrentDeviceID())
}

func TestRecorderRejectsBadFormat(t *testing.T) {
	rec := newTestRecorder(&fakeOpener{}, make(chan []byte, 1))
	require.ErrorIs(t, rec.SetDevice("mic", engine.AudioFormat{Rate: 0, Channels: 1}), vcerr.ErrInvalidArgument)
	require.ErrorIs(t, rec.SetDevice("mic", engine.AudioFormat{Rate: 16000, Channels: 3}), vcerr.ErrInvalidArgument)
	require.ErrorIs(t, rec.SetDevice("mic", engine.AudioFormat{Type: 9, Rate: 16000, Channels: 1}), vcerr.ErrInvalidArgument)
}

func TestRecorderOpenFailureIsOperationFailed(t *testing.T) {
	opener := &fakeOpener{err: errors.New("no pulse")}
	rec := newTestRecorder(opener, make(chan []byte, 1))

	require.ErrorIs(t, rec.Start(), vcerr.ErrOperationFailed)
	require.False(t, rec.Recording())
}

func TestRecorderReportsStall(t *testing.T) {
	interrupted := make(chan error, 1)
	rec := NewRecorder(RecorderOptions{
		OnInterrupt:  func(err error) { interrupted <- err },
		StallTimeout: 40 * time.Millisecond,
		Open:         (&fakeOpener{}).open,
	})
	require.NoError(t, rec.Start())
	defer func() { _ = rec.Stop() }()

	select {
	case err := <-interrupted:
		require.ErrorIs(t, err, vcerr.ErrOperationFailed)
	case <-time.After(time.Second):
		t.Fatal("stall not reported")
	}
}

func TestCaptureOnPCMReturnsEOFWhenStopped(t *testing.T) {
	c := newCapture(640)
	c.stop()

	n, err := c.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(0), c.bytes.Load())
}

func TestFrameBytes(t *testing.T) {
	require.Equal(t, 640, frameBytes(engine.AudioFormat{Type: engineabi.AudioTypePCMS16LE, Rate: 16000, Channels: 1}))
	require.Equal(t, 320, frameBytes(engine.AudioFormat{Type: engineabi.AudioTypePCMU8, Rate: 16000, Channels: 1}))
	require.Equal(t, 3840, frameBytes(engine.AudioFormat{Type: engineabi.AudioTypePCMS16LE, Rate: 48000, Channels: 2}))
	require.Equal(t, fragmentBytes, frameBytes(engine.AudioFormat{}))
}
