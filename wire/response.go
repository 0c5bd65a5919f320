package wire

import (
	"encoding/json"
	"strings"

	"github.com/sardanioss/httpcloak-go/errors"
)

// Response is the decoded success payload of a completed request.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	FinalURL   string            `json:"final_url"`
	Protocol   string            `json:"protocol"`
}

// FastMeta is the decoded metadata payload of a fast-path call. The body
// itself is staged engine-side and copied out separately.
type FastMeta struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	FinalURL   string            `json:"final_url"`
	Protocol   string            `json:"protocol"`
	BodyLen    int64             `json:"body_len"`
}

// StreamMeta is the decoded headers-available payload of a stream open.
type StreamMeta struct {
	StreamID      int64             `json:"stream_id"`
	StatusCode    int               `json:"status_code"`
	Headers       map[string]string `json:"headers"`
	ContentLength int64             `json:"content_length"`
	FinalURL      string            `json:"final_url"`
	Protocol      string            `json:"protocol"`
}

// engineError probes a payload for the reserved "error" field. Presence
// of the field signals failure even with a null or non-string value,
// and the message is recovered as faithfully as the payload allows.
func engineError(data []byte) (msg string, found bool) {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Error == nil {
		return "", false
	}
	if err := json.Unmarshal(probe.Error, &msg); err != nil {
		msg = string(probe.Error)
	}
	return msg, true
}

// timeoutMarkers are the substrings the engine's transport layer uses in
// timeout failures.
var timeoutMarkers = []string{"timeout", "timed out", "deadline exceeded"}

func isTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range timeoutMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// EngineFailure converts an engine-reported message into the binding's
// error taxonomy, keeping the message verbatim. Timeout wording maps to
// the timeout kind; everything else is an opaque engine error.
func EngineFailure(phase errors.Phase, msg string) *errors.Error {
	if isTimeoutMessage(msg) {
		return errors.Timeout(phase, msg)
	}
	return errors.Engine(phase, msg)
}

// DecodeResponse parses a response payload. The reserved error field is
// checked before anything else; a payload carrying it never decodes as a
// partial success. Empty input is the distinct no-response failure.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, errors.NoResponse(errors.PhaseDecode)
	}
	if msg, found := engineError(data); found {
		return nil, EngineFailure(errors.PhaseRequest, msg)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed engine response")
	}
	return &resp, nil
}

// DecodeFastMeta parses a fast-path metadata payload.
func DecodeFastMeta(data []byte) (*FastMeta, error) {
	if len(data) == 0 {
		return nil, errors.NoResponse(errors.PhaseDecode)
	}
	if msg, found := engineError(data); found {
		return nil, EngineFailure(errors.PhaseRequest, msg)
	}
	var meta FastMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed fast-path metadata")
	}
	if meta.BodyLen < 0 {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, nil, "negative body length")
	}
	return &meta, nil
}

// DecodeStreamMeta parses a stream-open metadata payload. A missing
// content_length decodes as -1 (undeclared).
func DecodeStreamMeta(data []byte) (*StreamMeta, error) {
	if len(data) == 0 {
		return nil, errors.NoResponse(errors.PhaseDecode)
	}
	if msg, found := engineError(data); found {
		return nil, EngineFailure(errors.PhaseStream, msg)
	}
	meta := StreamMeta{ContentLength: -1}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed stream metadata")
	}
	if meta.StreamID == 0 {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, nil, "stream metadata missing stream_id")
	}
	return &meta, nil
}

// DecodeCookies parses a cookie map payload. Empty input means an empty
// jar, matching the engine's behavior for fresh sessions.
func DecodeCookies(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	if msg, found := engineError(data); found {
		return nil, EngineFailure(errors.PhaseSession, msg)
	}
	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed cookie payload")
	}
	if cookies == nil {
		cookies = map[string]string{}
	}
	return cookies, nil
}

// DecodePresets parses the available-presets payload (a JSON array).
func DecodePresets(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var presets []string
	if err := json.Unmarshal(data, &presets); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed preset list")
	}
	return presets, nil
}

// DecodeHeaderOrder parses a header-order payload (a JSON array).
func DecodeHeaderOrder(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if msg, found := engineError(data); found {
		return nil, EngineFailure(errors.PhaseSession, msg)
	}
	var order []string
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "malformed header order")
	}
	return order, nil
}
