package wire

import (
	"encoding/json"

	"github.com/sardanioss/httpcloak-go/errors"
)

// SessionConfig is the document consumed by session creation. Preset and
// timeout are always emitted; every other field crosses the boundary
// only when set, leaving the engine's defaults in force.
type SessionConfig struct {
	Preset          string            `json:"preset"`
	TimeoutSeconds  int               `json:"timeout"`
	Proxy           string            `json:"proxy,omitempty"`
	HTTPVersion     string            `json:"http_version,omitempty"`
	TLSOnly         bool              `json:"tls_only,omitempty"`
	QUICIdleSeconds int               `json:"quic_idle_timeout,omitempty"`
	Retries         int               `json:"retries,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	HeaderOrder     []string          `json:"header_order,omitempty"`
}

// EncodeSessionConfig serializes a session config document.
func EncodeSessionConfig(c *SessionConfig) ([]byte, error) {
	if c == nil {
		return nil, errors.InvalidInput(errors.PhaseEncode, "nil session config")
	}
	if c.Preset == "" {
		return nil, errors.InvalidInput(errors.PhaseEncode, "preset must not be empty")
	}
	if c.TimeoutSeconds <= 0 {
		return nil, errors.InvalidInput(errors.PhaseEncode, "timeout must be positive")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "marshal session config")
	}
	return data, nil
}

// EncodeHeaderOrder serializes a header-order list for the dedicated
// export. An empty or nil list encodes as an empty array, which the
// engine reads as "restore the preset's default order".
func EncodeHeaderOrder(order []string) ([]byte, error) {
	if order == nil {
		order = []string{}
	}
	data, err := json.Marshal(order)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "marshal header order")
	}
	return data, nil
}
