// Package engine owns the recognition engine plugin lifecycle and proxies recognition calls to it.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
	"golang.org/x/text/language"
)

// Result is one recognition result reported by the engine.
type Result struct {
	Event        engineabi.ResultEvent
	IDs          []int
	AllText      string
	NonFixedText string
	Message      string
}

// AudioFormat is the PCM layout the engine expects.
type AudioFormat struct {
	Type     engineabi.AudioType
	Rate     int
	Channels int
}

// Commands is the read side of the current command snapshot.
type Commands interface {
	Count() int
	Each(fn func(command.Command) bool)
}

// Options wires the adapter's collaborators.
type Options struct {
	Loader   Loader
	Language string
	Logger   *slog.Logger
	// Commands backs the engine's foreach-command and command-count callbacks.
	Commands Commands
	// AudioDeviceID backs the engine's current-audio-device callback.
	AudioDeviceID func() string
}

// handle is the active engine. It is selected (set) before it is loaded.
type handle struct {
	info          Info
	lib           Library
	entry         entryPoints
	daemon        engineabi.DaemonFuncs
	funcs         engineabi.EngineFuncs
	loaded        bool
	commandsReady bool
}

// Adapter drives exactly one active engine through the engineabi function tables.
type Adapter struct {
	loader        Loader
	language      string
	logger        *slog.Logger
	commands      Commands
	audioDeviceID func() string

	onResult func(Result)

	active   *handle
	setToken engineabi.CommandSet
}

// NewAdapter constructs an adapter with no active engine.
func NewAdapter(opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loader := opts.Loader
	if loader == nil {
		loader = PluginLoader{}
	}
	deviceID := opts.AudioDeviceID
	if deviceID == nil {
		deviceID = func() string { return "" }
	}
	return &Adapter{
		loader:        loader,
		language:      strings.TrimSpace(opts.Language),
		logger:        logger,
		commands:      opts.Commands,
		audioDeviceID: deviceID,
	}
}

// SetResultHandler registers the receiver of engine results. The engine may invoke it from
// any goroutine; the handler is responsible for moving the result onto the daemon's loop.
func (a *Adapter) SetResultHandler(fn func(Result)) {
	a.onResult = fn
}

// SelectFirst makes the first discovered engine the active one.
func (a *Adapter) SelectFirst(infos []Info) error {
	if len(infos) == 0 {
		return fmt.Errorf("select engine: %w", vcerr.ErrEngineNotFound)
	}
	if a.active != nil && a.active.loaded {
		if err := a.Unload(); err != nil {
			return err
		}
	}
	a.active = &handle{info: infos[0]}
	a.logger.Info("engine selected", "engine_uuid", infos[0].UUID, "engine_name", infos[0].Name, "path", infos[0].Path)
	return nil
}

// Active returns the selected engine, if any.
func (a *Adapter) Active() (Info, bool) {
	if a.active == nil {
		return Info{}, false
	}
	return a.active.info, true
}

// Loaded reports whether the active engine is loaded and usable.
func (a *Adapter) Loaded() bool {
	return a.active != nil && a.active.loaded
}

// CommandsReady reports whether a command list was handed to the engine since the last start.
func (a *Adapter) CommandsReady() bool {
	return a.Loaded() && a.active.commandsReady
}

// Load opens the selected engine, validates its function table, initializes it, and applies
// the configured language. Any failure leaves the engine selected but unloaded.
func (a *Adapter) Load() error {
	if a.active == nil {
		return fmt.Errorf("load engine: %w", vcerr.ErrEngineNotFound)
	}
	h := a.active
	if h.loaded {
		return nil
	}

	lib, err := a.loader.Open(h.info.Path)
	if err != nil {
		return fmt.Errorf("open engine %q: %v: %w", h.info.Path, err, vcerr.ErrOperationFailed)
	}
	ep, err := resolveEntryPoints(lib)
	if err != nil {
		_ = lib.Close()
		return fmt.Errorf("resolve engine entry points: %v: %w", err, vcerr.ErrOperationFailed)
	}

	h.lib = lib
	h.entry = ep
	h.daemon = a.daemonFuncs()
	h.funcs = engineabi.EngineFuncs{}

	if code := ep.load(&h.daemon, &h.funcs); code != engineabi.ResultNone {
		a.release(h)
		return fmt.Errorf("engine load returned %d: %w", code, vcerr.ErrOperationFailed)
	}
	if h.funcs.Size != engineabi.EngineFuncsSize {
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine function table size %d, want %d: %w", h.funcs.Size, engineabi.EngineFuncsSize, vcerr.ErrOperationFailed)
	}
	if missing := h.funcs.MissingFuncs(); len(missing) > 0 {
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine function table missing %s: %w", strings.Join(missing, ", "), vcerr.ErrOperationFailed)
	}

	if code := h.funcs.Initialize(); code != engineabi.ResultNone {
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine initialize returned %d: %w", code, vcerr.ErrOperationFailed)
	}
	if code := h.funcs.SetResultCallback(a.handleResult); code != engineabi.ResultNone {
		_ = h.funcs.Deinitialize()
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine set result callback returned %d: %w", code, vcerr.ErrOperationFailed)
	}

	lang, ok := a.matchLanguage(h, a.language)
	if !ok {
		_ = h.funcs.Deinitialize()
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine does not support language %q: %w", a.language, vcerr.ErrOperationFailed)
	}
	if code := h.funcs.SetLanguage(lang); code != engineabi.ResultNone {
		_ = h.funcs.Deinitialize()
		a.unloadEntry(h)
		a.release(h)
		return fmt.Errorf("engine set language %q returned %d: %w", lang, code, vcerr.ErrOperationFailed)
	}

	h.loaded = true
	a.logger.Info("engine loaded", "engine_uuid", h.info.UUID, "language", lang)
	return nil
}

// Unload deinitializes and releases the active engine. Unloading an unloaded engine is a no-op.
func (a *Adapter) Unload() error {
	if a.active == nil || !a.active.loaded {
		return nil
	}
	h := a.active
	if code := h.funcs.Deinitialize(); code != engineabi.ResultNone {
		a.logger.Warn("engine deinitialize failed", "engine_uuid", h.info.UUID, "code", code)
	}
	a.unloadEntry(h)
	a.release(h)
	a.logger.Info("engine unloaded", "engine_uuid", h.info.UUID)
	return nil
}

func (a *Adapter) unloadEntry(h *handle) {
	if h.entry.unload == nil {
		return
	}
	if code := h.entry.unload(); code != engineabi.ResultNone {
		a.logger.Warn("engine unload entry point failed", "engine_uuid", h.info.UUID, "code", code)
	}
}

func (a *Adapter) release(h *handle) {
	if h.lib != nil {
		_ = h.lib.Close()
	}
	h.lib = nil
	h.entry = entryPoints{}
	h.funcs = engineabi.EngineFuncs{}
	h.loaded = false
	h.commandsReady = false
}

// matchLanguage finds the engine's spelling of lang, comparing canonical BCP 47 tags.
func (a *Adapter) matchLanguage(h *handle, lang string) (string, bool) {
	if lang == "" {
		return "", false
	}
	if h.funcs.IsLanguageSupported(lang) {
		return lang, true
	}
	want := CanonicalLanguage(lang)
	var match string
	h.funcs.ForeachSupportedLanguage(func(candidate string) bool {
		if CanonicalLanguage(candidate) == want {
			match = candidate
			return false
		}
		return true
	})
	return match, match != ""
}

// CanonicalLanguage normalizes tags such as "en_US" and "EN-us" to "en-US".
// Unparseable input is returned trimmed and unchanged.
func CanonicalLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return raw
	}
	return tag.String()
}

func (a *Adapter) funcs() (*engineabi.EngineFuncs, error) {
	if !a.Loaded() {
		return nil, fmt.Errorf("engine not loaded: %w", vcerr.ErrOperationFailed)
	}
	return &a.active.funcs, nil
}

func codeErr(op string, code int) error {
	if code == engineabi.ResultNone {
		return nil
	}
	return fmt.Errorf("engine %s returned %d: %w", op, code, vcerr.ErrOperationFailed)
}

// SetCommands hands the current command snapshot to the engine. The engine reads it back
// synchronously through the daemon callbacks.
func (a *Adapter) SetCommands() error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	a.setToken++
	a.active.commandsReady = false
	if err := codeErr("set commands", f.SetCommands(a.setToken)); err != nil {
		return err
	}
	a.active.commandsReady = true
	return nil
}

// UnsetCommands tells the engine to drop its command list.
func (a *Adapter) UnsetCommands() error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	a.active.commandsReady = false
	return codeErr("unset commands", f.UnsetCommands())
}

// Start begins recognition. A fresh command list is required.
func (a *Adapter) Start(stopBySilence bool) error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	if !a.active.commandsReady {
		return fmt.Errorf("engine start without command list: %w", vcerr.ErrOperationFailed)
	}
	return codeErr("start", f.Start(stopBySilence))
}

// FeedAudio forwards one PCM chunk.
func (a *Adapter) FeedAudio(data []byte) (engineabi.SpeechDetect, error) {
	f, err := a.funcs()
	if err != nil {
		return engineabi.SpeechDetectNone, err
	}
	detect, code := f.SetRecordingData(data)
	if err := codeErr("set recording data", code); err != nil {
		return engineabi.SpeechDetectNone, err
	}
	return detect, nil
}

// Stop ends audio input; the result arrives through the result handler.
func (a *Adapter) Stop() error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	return codeErr("stop", f.Stop())
}

// Cancel aborts recognition.
func (a *Adapter) Cancel() error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	return codeErr("cancel", f.Cancel())
}

// AudioFormat asks the engine which PCM layout it wants for a capture device.
func (a *Adapter) AudioFormat(deviceID string) (AudioFormat, error) {
	f, err := a.funcs()
	if err != nil {
		return AudioFormat{}, err
	}
	typ, rate, channels, code := f.GetAudioFormat(deviceID)
	if err := codeErr("get audio format", code); err != nil {
		return AudioFormat{}, err
	}
	return AudioFormat{Type: typ, Rate: rate, Channels: channels}, nil
}

// SupportedLanguages lists the engine's languages.
func (a *Adapter) SupportedLanguages() ([]string, error) {
	f, err := a.funcs()
	if err != nil {
		return nil, err
	}
	var langs []string
	code := f.ForeachSupportedLanguage(func(lang string) bool {
		langs = append(langs, lang)
		return true
	})
	if err := codeErr("foreach supported language", code); err != nil {
		return nil, err
	}
	return langs, nil
}

// SetLanguage switches the recognition language.
func (a *Adapter) SetLanguage(lang string) error {
	f, err := a.funcs()
	if err != nil {
		return err
	}
	match, ok := a.matchLanguage(a.active, lang)
	if !ok {
		return fmt.Errorf("language %q: %w", lang, vcerr.ErrInvalidArgument)
	}
	return codeErr("set language", f.SetLanguage(match))
}

func (a *Adapter) handleResult(event engineabi.ResultEvent, ids []int, allText, nonFixedText, message string) {
	if a.onResult == nil {
		a.logger.Warn("engine result dropped; no handler", "event", int(event))
		return
	}
	a.onResult(Result{
		Event:        event,
		IDs:          append([]int(nil), ids...),
		AllText:      allText,
		NonFixedText: nonFixedText,
		Message:      message,
	})
}

// daemonFuncs builds the reverse-call table handed to the engine.
func (a *Adapter) daemonFuncs() engineabi.DaemonFuncs {
	return engineabi.DaemonFuncs{
		Size: engineabi.DaemonFuncsSize,
		ForeachCommand: func(set engineabi.CommandSet, fn func(engineabi.Command) bool) int {
			if set != a.setToken || a.commands == nil {
				return engineabi.ResultInvalidArgument
			}
			a.commands.Each(func(c command.Command) bool {
				return fn(engineabi.Command{
					ID:        c.ID,
					Group:     int(c.Group),
					Format:    int(c.Format),
					Text:      c.Text,
					Parameter: c.Parameter,
					Domain:    c.Domain,
					Key:       c.Key,
					Modifier:  c.Modifier,
				})
			})
			return engineabi.ResultNone
		},
		GetCommandCount: func(set engineabi.CommandSet) int {
			if set != a.setToken || a.commands == nil {
				return 0
			}
			return a.commands.Count()
		},
		GetAudioDeviceID: a.audioDeviceID,
	}
}
