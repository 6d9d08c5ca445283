// Package engineabi is the contract between vcd and a recognition engine plugin.
//
// A plugin is a Go plugin (-buildmode=plugin) exporting three symbols:
//
//	var GetEngineInfo engineabi.GetInfoFunc
//	var LoadEngine    engineabi.LoadFunc
//	var UnloadEngine  engineabi.UnloadFunc
//
// At load time the daemon passes its DaemonFuncs table and an empty EngineFuncs table. The
// plugin fills EngineFuncs, including Size, which must equal EngineFuncsSize. Every function
// returns ResultNone on success and a negative code on failure.
package engineabi

import "unsafe"

// Exported plugin symbol names.
const (
	SymbolGetInfo = "GetEngineInfo"
	SymbolLoad    = "LoadEngine"
	SymbolUnload  = "UnloadEngine"
)

// Result codes shared across the ABI.
const (
	ResultNone            = 0
	ResultOutOfMemory     = -12
	ResultInvalidArgument = -22
	ResultInvalidState    = -0x0100011
	ResultOperationFailed = -0x0100014
)

// SpeechDetect marks utterance boundaries found in one fed audio chunk.
type SpeechDetect int

const (
	SpeechDetectNone SpeechDetect = iota
	SpeechDetectBegin
	SpeechDetectEnd
)

// ResultEvent classifies a recognition result.
type ResultEvent int

const (
	ResultEventSuccess ResultEvent = iota
	ResultEventRejected
	ResultEventError
)

// AudioType is a PCM sample format.
type AudioType int

const (
	AudioTypePCMS16LE AudioType = iota
	AudioTypePCMU8
)

// CommandSet is an opaque token naming the daemon's current command snapshot.
type CommandSet uintptr

// Command is the engine-facing view of one registered command.
type Command struct {
	ID        int
	Group     int
	Format    int
	Text      string
	Parameter string
	Domain    int
	Key       int
	Modifier  int
}

// Info is what GetEngineInfo reports about a plugin.
type Info struct {
	UUID       string
	Name       string
	Setting    string
	UseNetwork bool
}

// ResultCallback delivers a recognition result from engine to daemon.
type ResultCallback func(event ResultEvent, resultIDs []int, allText, nonFixedText, message string)

// DaemonFuncs is the daemon side of the contract, handed to the engine at load.
type DaemonFuncs struct {
	Size uintptr

	ForeachCommand   func(set CommandSet, fn func(Command) bool) int
	GetCommandCount  func(set CommandSet) int
	GetAudioDeviceID func() string
}

// EngineFuncs is the engine side of the contract, filled by LoadEngine.
type EngineFuncs struct {
	Size uintptr

	Initialize               func() int
	Deinitialize             func() int
	SetResultCallback        func(ResultCallback) int
	GetAudioFormat           func(audioDeviceID string) (AudioType, int, int, int)
	ForeachSupportedLanguage func(fn func(lang string) bool) int
	IsLanguageSupported      func(lang string) bool
	SetLanguage              func(lang string) int
	SetCommands              func(set CommandSet) int
	UnsetCommands            func() int
	Start                    func(stopBySilence bool) int
	SetRecordingData         func(data []byte) (SpeechDetect, int)
	Stop                     func() int
	Cancel                   func() int
}

// Plugin entry point signatures.
type (
	GetInfoFunc func() (Info, int)
	LoadFunc    func(daemon *DaemonFuncs, engine *EngineFuncs) int
	UnloadFunc  func() int
)

// Struct sizes both sides stamp into the Size field.
var (
	DaemonFuncsSize = unsafe.Sizeof(DaemonFuncs{})
	EngineFuncsSize = unsafe.Sizeof(EngineFuncs{})
)

// MissingFuncs reports the names of required EngineFuncs entries that are nil.
func (e *EngineFuncs) MissingFuncs() []string {
	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("Initialize", e.Initialize != nil)
	check("Deinitialize", e.Deinitialize != nil)
	check("SetResultCallback", e.SetResultCallback != nil)
	check("GetAudioFormat", e.GetAudioFormat != nil)
	check("ForeachSupportedLanguage", e.ForeachSupportedLanguage != nil)
	check("IsLanguageSupported", e.IsLanguageSupported != nil)
	check("SetLanguage", e.SetLanguage != nil)
	check("SetCommands", e.SetCommands != nil)
	check("UnsetCommands", e.UnsetCommands != nil)
	check("Start", e.Start != nil)
	check("SetRecordingData", e.SetRecordingData != nil)
	check("Stop", e.Stop != nil)
	check("Cancel", e.Cancel != nil)
	return missing
}
