package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
)

// DefaultDeviceID selects the configured input (or the Pulse default source).
const DefaultDeviceID = "default"

const (
	// frameDuration is the PCM span of one delivered frame.
	frameDuration = 20 * time.Millisecond
	// fragmentBytes is the Pulse server-side fragment size (20ms @ 16kHz mono s16).
	fragmentBytes = 640
)

// Stream is an open record stream.
type Stream interface {
	Start()
	Close()
}

// OpenFunc opens a record stream on device that writes PCM in format to w.
type OpenFunc func(ctx context.Context, device string, format engine.AudioFormat, w io.Writer) (Stream, error)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Input and Fallback are the device preferences used for DefaultDeviceID.
	Input    string
	Fallback string
	Logger   *slog.Logger

	// OnFrame receives each PCM frame from a capture goroutine.
	OnFrame func([]byte)
	// OnInterrupt is called once when capture stalls.
	OnInterrupt func(error)
	// StallTimeout is how long capture may go without PCM before it is reported interrupted.
	StallTimeout time.Duration

	Open OpenFunc
}

// Recorder captures audio from one Pulse source at a time.
type Recorder struct {
	input       string
	fallback    string
	logger      *slog.Logger
	onFrame     func([]byte)
	onInterrupt func(error)
	stall       time.Duration
	open        OpenFunc

	mu       sync.Mutex
	deviceID string
	format   engine.AudioFormat
	active   *capture
}

// NewRecorder constructs an idle recorder bound to DefaultDeviceID.
func NewRecorder(opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	onFrame := opts.OnFrame
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	onInterrupt := opts.OnInterrupt
	if onInterrupt == nil {
		onInterrupt = func(error) {}
	}
	stall := opts.StallTimeout
	if stall <= 0 {
		stall = 3 * time.Second
	}
	r := &Recorder{
		input:       opts.Input,
		fallback:    opts.Fallback,
		logger:      logger,
		onFrame:     onFrame,
		onInterrupt: onInterrupt,
		stall:       stall,
		open:        opts.Open,
		deviceID:    DefaultDeviceID,
		format:      engine.AudioFormat{Type: engineabi.AudioTypePCMS16LE, Rate: 16000, Channels: 1},
	}
	if r.open == nil {
		r.open = r.openPulse
	}
	return r
}

// SetAudioType selects the capture device used by the next recording.
func (r *Recorder) SetAudioType(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("set audio type while recording: %w", vcerr.ErrInvalidState)
	}
	r.deviceID = normalizeDeviceID(id)
	return nil
}

// SetDevice selects the device and PCM layout of the next recording.
func (r *Recorder) SetDevice(id string, format engine.AudioFormat) error {
	if format.Rate <= 0 || format.Channels <= 0 || format.Channels > 2 {
		return fmt.Errorf("audio format %+v: %w", format, vcerr.ErrInvalidArgument)
	}
	if _, err := sampleFormat(format.Type); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("set audio device while recording: %w", vcerr.ErrInvalidState)
	}
	r.deviceID = normalizeDeviceID(id)
	r.format = format
	return nil
}

// CurrentDeviceID returns the selected device id.
func (r *Recorder) CurrentDeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID
}

// Recording reports whether capture is running.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start opens the selected device and begins delivering frames.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("recorder already capturing %q: %w", r.deviceID, vcerr.ErrRecorderBusy)
	}

	c := newCapture(frameBytes(r.format))
	stream, err := r.open(context.Background(), r.deviceID, r.format, writerFunc(c.onPCM))
	if err != nil {
		return fmt.Errorf("open audio device %q: %v: %w", r.deviceID, err, vcerr.ErrOperationFailed)
	}
	c.stream = stream
	r.active = c

	go c.dispatch(r.onFrame)
	go c.watch(r.stall, func(err error) {
		r.logger.Warn("audio capture stalled", "device", r.deviceID, "error", err.Error())
		r.onInterrupt(err)
	})
	stream.Start()

	r.logger.Info("audio capture started", "device", r.deviceID, "rate", r.format.Rate, "channels", r.format.Channels)
	return nil
}

// Stop ends capture. Stopping an idle recorder is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	c.stop()
	r.logger.Info("audio capture stopped", "bytes", c.bytes.Load())
	return nil
}

// openPulse opens a Pulse record stream on the resolved source.
func (r *Recorder) openPulse(ctx context.Context, device string, format engine.AudioFormat, w io.Writer) (Stream, error) {
	input := device
	if input == DefaultDeviceID {
		input = r.input
	}
	selection, err := SelectDevice(ctx, input, r.fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" {
		r.logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	sample, err := sampleFormat(format.Type)
	if err != nil {
		return nil, err
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	channels := pulse.RecordMono
	if format.Channels == 2 {
		channels = pulse.RecordStereo
	}
	stream, err := client.NewRecord(
		pulse.NewWriter(w, sample),
		pulse.RecordSource(source),
		channels,
		pulse.RecordSampleRate(format.Rate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("vcd voice control"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	return &pulseStream{client: client, stream: stream}, nil
}

type pulseStream struct {
	client *pulse.Client
	stream *pulse.RecordStream
}

func (p *pulseStream) Start() {
	p.stream.Start()
}

func (p *pulseStream) Close() {
	p.stream.Stop()
	p.stream.Close()
	p.client.Close()
}

func sampleFormat(t engineabi.AudioType) (byte, error) {
	switch t {
	case engineabi.AudioTypePCMS16LE:
		return pulseproto.FormatInt16LE, nil
	case engineabi.AudioTypePCMU8:
		return pulseproto.FormatUint8, nil
	default:
		return 0, fmt.Errorf("audio type %d: %w", int(t), vcerr.ErrInvalidArgument)
	}
}

// frameBytes is the size of one frameDuration of PCM in format.
func frameBytes(format engine.AudioFormat) int {
	bytesPerSample := 2
	if format.Type == engineabi.AudioTypePCMU8 {
		bytesPerSample = 1
	}
	n := format.Rate * format.Channels * bytesPerSample * int(frameDuration/time.Millisecond) / 1000
	if n <= 0 {
		return fragmentBytes
	}
	return n
}

func normalizeDeviceID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultDeviceID
	}
	return id
}

// capture is one recording: PCM from the stream writer is cut into frames and handed to a
// dispatcher goroutine so the writer never blocks on the consumer.
type capture struct {
	frameSize int
	stream    Stream

	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight  sync.WaitGroup
	bytes     atomic.Int64
	lastFrame atomic.Int64
}

func newCapture(frameSize int) *capture {
	c := &capture{
		frameSize: frameSize,
		frames:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
	}
	c.lastFrame.Store(time.Now().UnixNano())
	return c
}

// onPCM receives raw stream bytes and queues complete frames.
func (c *capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped so stop's Wait cannot race it.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)
	frames := make([][]byte, 0, len(c.pending)/c.frameSize)
	for len(c.pending) >= c.frameSize {
		frame := make([]byte, c.frameSize)
		copy(frame, c.pending[:c.frameSize])
		c.pending = c.pending[c.frameSize:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))
	c.lastFrame.Store(time.Now().UnixNano())

	for _, frame := range frames {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}
	return len(buffer), nil
}

// dispatch hands queued frames to fn until the capture stops.
func (c *capture) dispatch(fn func([]byte)) {
	for {
		select {
		case <-c.stopCh:
			return
		case frame := <-c.frames:
			fn(frame)
		}
	}
}

// watch reports a stall once when no PCM arrives within timeout.
func (c *capture) watch(timeout time.Duration, report func(error)) {
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			idle := now.Sub(time.Unix(0, c.lastFrame.Load()))
			if idle >= timeout {
				report(fmt.Errorf("no audio for %s: %w", idle.Round(time.Millisecond), vcerr.ErrOperationFailed))
				return
			}
		}
	}
}

// stop closes the stream exactly once and waits for in-flight writes.
func (c *capture) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Close()
	}
	c.inflight.Wait()
}
