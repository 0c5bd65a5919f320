package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sardanioss/httpcloak-go/errors"
)

// Header is one name/value pair in a request header list.
type Header struct {
	Name  string
	Value string
}

// HeaderMap is an insertion-ordered header list. It marshals to a JSON
// object whose keys appear in list order, which is what the engine's
// fingerprint emulation expects. Lookups are case-insensitive per HTTP
// semantics.
type HeaderMap []Header

// Get returns the first value whose name matches case-insensitively.
func (h HeaderMap) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Has reports whether a header with the given name is present.
func (h HeaderMap) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set replaces the first case-insensitive match in place, preserving its
// position, or appends when absent.
func (h *HeaderMap) Set(name, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Clone returns an independent copy.
func (h HeaderMap) Clone() HeaderMap {
	if h == nil {
		return nil
	}
	out := make(HeaderMap, len(h))
	copy(out, h)
	return out
}

// MarshalJSON writes the headers as a JSON object in list order.
func (h HeaderMap) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, hdr := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(hdr.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(hdr.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving document key order.
// Duplicate keys are kept as separate entries.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*h = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("headers: expected object, got %v", tok)
	}
	out := (*h)[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("headers: non-string key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("headers: value for %q: %w", key, err)
		}
		out = append(out, Header{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}

// Request is the descriptor serialized across the boundary for the
// generic request export. It is immutable once encoded.
type Request struct {
	Method         string    `json:"method"`
	URL            string    `json:"url"`
	Headers        HeaderMap `json:"headers,omitempty"`
	HeaderOrder    []string  `json:"header_order,omitempty"`
	Body           string    `json:"body,omitempty"`
	TimeoutSeconds int       `json:"timeout,omitempty"`
}

// Encode serializes a request descriptor to the engine's wire document.
// The method is uppercased; unknown methods pass through verbatim.
func Encode(r *Request) ([]byte, error) {
	if r == nil {
		return nil, errors.InvalidInput(errors.PhaseEncode, "nil request")
	}
	if r.URL == "" {
		return nil, errors.InvalidInput(errors.PhaseEncode, "url must not be empty")
	}
	if r.Method == "" {
		return nil, errors.InvalidInput(errors.PhaseEncode, "method must not be empty")
	}
	enc := *r
	enc.Method = strings.ToUpper(r.Method)
	data, err := json.Marshal(&enc)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "marshal request")
	}
	return data, nil
}

// EncodeHeaders serializes a bare header list for the dedicated GET/POST
// exports, which take headers as their own argument. Nil or empty input
// yields nil, meaning "no custom headers" at the boundary.
func EncodeHeaders(h HeaderMap) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "marshal headers")
	}
	return data, nil
}
