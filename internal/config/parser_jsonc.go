package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Engine   *jsoncEngine `json:"engine"`
	Language *string      `json:"language"`
	Audio    *jsoncAudio  `json:"audio"`
	MQTT     *jsoncMQTT   `json:"mqtt"`
	Daemon   *jsoncDaemon `json:"daemon"`
	Store    *jsoncStore  `json:"store"`
	HTTP     *jsoncHTTP   `json:"http"`
	Log      *jsoncLog    `json:"log"`
}

type jsoncEngine struct {
	Dir           *string `json:"dir"`
	Remote        *string `json:"remote"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
	CallTimeoutMS *int    `json:"call_timeout_ms"`
}

type jsoncAudio struct {
	Input          *string `json:"input"`
	Fallback       *string `json:"fallback"`
	StallTimeoutMS *int    `json:"stall_timeout_ms"`
}

type jsoncMQTT struct {
	Broker         *string `json:"broker"`
	ClientID       *string `json:"client_id"`
	Username       *string `json:"username"`
	Password       *string `json:"password"`
	TopicPrefix    *string `json:"topic_prefix"`
	HelloTimeoutMS *int    `json:"hello_timeout_ms"`
}

type jsoncDaemon struct {
	CleanupIntervalMS     *int  `json:"cleanup_interval_ms"`
	IdleShutdown          *bool `json:"idle_shutdown"`
	ResultRetryLimit      *int  `json:"result_retry_limit"`
	ResultRetryIntervalMS *int  `json:"result_retry_interval_ms"`
}

type jsoncStore struct {
	Path *string `json:"path"`
}

type jsoncHTTP struct {
	Addr *string `json:"addr"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)
	return finalize(cfg, warnings)
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if payload.Engine != nil {
		setString(&cfg.Engine.Dir, payload.Engine.Dir)
		setString(&cfg.Engine.Remote, payload.Engine.Remote)
		setInt(&cfg.Engine.DialTimeoutMS, payload.Engine.DialTimeoutMS)
		setInt(&cfg.Engine.CallTimeoutMS, payload.Engine.CallTimeoutMS)
	}

	setString(&cfg.Language, payload.Language)

	if payload.Audio != nil {
		setString(&cfg.Audio.Input, payload.Audio.Input)
		setString(&cfg.Audio.Fallback, payload.Audio.Fallback)
		setInt(&cfg.Audio.StallTimeoutMS, payload.Audio.StallTimeoutMS)
	}

	if payload.MQTT != nil {
		setString(&cfg.MQTT.Broker, payload.MQTT.Broker)
		setString(&cfg.MQTT.ClientID, payload.MQTT.ClientID)
		setString(&cfg.MQTT.Username, payload.MQTT.Username)
		if payload.MQTT.Password != nil {
			cfg.MQTT.Password = *payload.MQTT.Password
			warnings = append(warnings, Warning{Message: "mqtt.password is stored in plain text; prefer VCD_MQTT_PASSWORD"})
		}
		setString(&cfg.MQTT.TopicPrefix, payload.MQTT.TopicPrefix)
		cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
		setInt(&cfg.MQTT.HelloTimeoutMS, payload.MQTT.HelloTimeoutMS)
	}

	if payload.Daemon != nil {
		setInt(&cfg.Daemon.CleanupIntervalMS, payload.Daemon.CleanupIntervalMS)
		if payload.Daemon.IdleShutdown != nil {
			cfg.Daemon.IdleShutdown = *payload.Daemon.IdleShutdown
		}
		setInt(&cfg.Daemon.ResultRetryLimit, payload.Daemon.ResultRetryLimit)
		setInt(&cfg.Daemon.ResultRetryIntervalMS, payload.Daemon.ResultRetryIntervalMS)
	}

	if payload.Store != nil {
		setString(&cfg.Store.Path, payload.Store.Path)
	}
	if payload.HTTP != nil {
		setString(&cfg.HTTP.Addr, payload.HTTP.Addr)
	}
	if payload.Log != nil {
		setString(&cfg.Log.Level, payload.Log.Level)
	}

	return warnings
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
