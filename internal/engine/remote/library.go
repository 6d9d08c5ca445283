package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/vcd/internal/engine"
	"github.com/rbright/vcd/pkg/engineabi"
	"google.golang.org/protobuf/types/known/structpb"
)

// Scheme prefixes engine paths served by Loader, as in "grpc://127.0.0.1:50071".
const Scheme = "grpc"

// Path formats an endpoint as an engine path.
func Path(endpoint string) string {
	return Scheme + "://" + strings.TrimSpace(endpoint)
}

// Loader opens remote engines. It satisfies engine.Loader.
type Loader struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	Logger      *slog.Logger
}

func (l Loader) Open(path string) (engine.Library, error) {
	endpoint, ok := strings.CutPrefix(path, Scheme+"://")
	if !ok {
		return nil, fmt.Errorf("remote engine path %q lacks %s:// prefix", path, Scheme)
	}
	client, err := Dial(context.Background(), Config{
		Endpoint:    endpoint,
		DialTimeout: l.DialTimeout,
		CallTimeout: l.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &library{client: client, logger: logger.With("engine_endpoint", endpoint)}, nil
}

// library presents a remote engine through the plugin entry points.
type library struct {
	client *Client
	logger *slog.Logger

	mu       sync.Mutex
	callback engineabi.ResultCallback
}

func (l *library) Lookup(symbol string) (any, error) {
	switch symbol {
	case engineabi.SymbolGetInfo:
		fn := engineabi.GetInfoFunc(l.getInfo)
		return &fn, nil
	case engineabi.SymbolLoad:
		fn := engineabi.LoadFunc(l.load)
		return &fn, nil
	case engineabi.SymbolUnload:
		fn := engineabi.UnloadFunc(func() int { return engineabi.ResultNone })
		return &fn, nil
	default:
		return nil, fmt.Errorf("remote engine has no symbol %q", symbol)
	}
}

func (l *library) Close() error {
	return l.client.Close()
}

func (l *library) getInfo() (engineabi.Info, int) {
	resp, err := l.client.Call(MethodGetInfo, nil)
	if err != nil {
		return engineabi.Info{}, l.resultCode(MethodGetInfo, err)
	}
	fields := resp.GetFields()
	return engineabi.Info{
		UUID:       fields["uuid"].GetStringValue(),
		Name:       fields["name"].GetStringValue(),
		Setting:    fields["setting"].GetStringValue(),
		UseNetwork: fields["use_network"].GetBoolValue(),
	}, engineabi.ResultNone
}

func (l *library) load(daemon *engineabi.DaemonFuncs, funcs *engineabi.EngineFuncs) int {
	if daemon == nil || funcs == nil || daemon.Size != engineabi.DaemonFuncsSize {
		return engineabi.ResultInvalidArgument
	}

	*funcs = engineabi.EngineFuncs{
		Size:         engineabi.EngineFuncsSize,
		Initialize:   func() int { return l.simple(MethodInitialize, nil) },
		Deinitialize: func() int { return l.simple(MethodDeinitialize, nil) },
		SetResultCallback: func(cb engineabi.ResultCallback) int {
			l.mu.Lock()
			l.callback = cb
			l.mu.Unlock()
			return engineabi.ResultNone
		},
		GetAudioFormat: func(deviceID string) (engineabi.AudioType, int, int, int) {
			resp, err := l.client.Call(MethodAudioFormat, map[string]any{"device_id": deviceID})
			if err != nil {
				return 0, 0, 0, l.resultCode(MethodAudioFormat, err)
			}
			fields := resp.GetFields()
			return engineabi.AudioType(fields["type"].GetNumberValue()),
				int(fields["rate"].GetNumberValue()),
				int(fields["channels"].GetNumberValue()),
				engineabi.ResultNone
		},
		ForeachSupportedLanguage: func(fn func(string) bool) int {
			langs, code := l.languages()
			for _, lang := range langs {
				if !fn(lang) {
					break
				}
			}
			return code
		},
		IsLanguageSupported: func(lang string) bool {
			langs, _ := l.languages()
			for _, candidate := range langs {
				if candidate == lang {
					return true
				}
			}
			return false
		},
		SetLanguage: func(lang string) int {
			return l.simple(MethodSetLanguage, map[string]any{"language": lang})
		},
		SetCommands: func(set engineabi.CommandSet) int {
			cmds := make([]any, 0, daemon.GetCommandCount(set))
			code := daemon.ForeachCommand(set, func(c engineabi.Command) bool {
				cmds = append(cmds, map[string]any{
					"id":        c.ID,
					"group":     c.Group,
					"format":    c.Format,
					"text":      c.Text,
					"parameter": c.Parameter,
					"domain":    c.Domain,
					"key":       c.Key,
					"modifier":  c.Modifier,
				})
				return true
			})
			if code != engineabi.ResultNone {
				return code
			}
			return l.simple(MethodSetCommands, map[string]any{"commands": cmds})
		},
		UnsetCommands: func() int {
			return l.simple(MethodSetCommands, map[string]any{"commands": []any{}})
		},
		Start: func(stopBySilence bool) int {
			return l.simple(MethodStart, map[string]any{"stop_by_silence": stopBySilence})
		},
		SetRecordingData: func(data []byte) (engineabi.SpeechDetect, int) {
			resp, err := l.client.Call(MethodFeed, map[string]any{"audio": base64.StdEncoding.EncodeToString(data)})
			if err != nil {
				return engineabi.SpeechDetectNone, l.resultCode(MethodFeed, err)
			}
			return engineabi.SpeechDetect(resp.GetFields()["speech_detect"].GetNumberValue()), engineabi.ResultNone
		},
		Stop: func() int {
			resp, err := l.client.Call(MethodStop, nil)
			if err != nil {
				return l.resultCode(MethodStop, err)
			}
			l.deliver(resp.GetFields()["result"].GetStructValue())
			return engineabi.ResultNone
		},
		Cancel: func() int { return l.simple(MethodCancel, nil) },
	}
	return engineabi.ResultNone
}

func (l *library) simple(method string, fields map[string]any) int {
	_, err := l.client.Call(method, fields)
	return l.resultCode(method, err)
}

func (l *library) languages() ([]string, int) {
	resp, err := l.client.Call(MethodLanguages, nil)
	if err != nil {
		return nil, l.resultCode(MethodLanguages, err)
	}
	var langs []string
	for _, v := range resp.GetFields()["languages"].GetListValue().GetValues() {
		if lang := v.GetStringValue(); lang != "" {
			langs = append(langs, lang)
		}
	}
	return langs, engineabi.ResultNone
}

// deliver forwards a Stop response's recognition result to the registered callback.
func (l *library) deliver(result *structpb.Struct) {
	if result == nil {
		return
	}
	l.mu.Lock()
	cb := l.callback
	l.mu.Unlock()
	if cb == nil {
		return
	}

	fields := result.GetFields()
	var ids []int
	for _, v := range fields["ids"].GetListValue().GetValues() {
		ids = append(ids, int(v.GetNumberValue()))
	}
	cb(
		engineabi.ResultEvent(fields["event"].GetNumberValue()),
		ids,
		fields["all_text"].GetStringValue(),
		fields["non_fixed_text"].GetStringValue(),
		fields["message"].GetStringValue(),
	)
}

func (l *library) resultCode(method string, err error) int {
	if err == nil {
		return engineabi.ResultNone
	}
	var codeErr *CodeError
	if errors.As(err, &codeErr) && codeErr.Code < 0 {
		return codeErr.Code
	}
	l.logger.Warn("remote engine call failed", "method", method, "error", err.Error())
	return engineabi.ResultOperationFailed
}
