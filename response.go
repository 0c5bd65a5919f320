package httpcloak

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/wire"
)

// Response is the fully-materialized result of a completed request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	FinalURL   string
	Protocol   string

	body []byte
}

func newResponse(w *wire.Response) *Response {
	headers := w.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return &Response{
		StatusCode: w.StatusCode,
		Headers:    headers,
		FinalURL:   w.FinalURL,
		Protocol:   w.Protocol,
		body:       []byte(w.Body),
	}
}

// Bytes returns the raw response body. The slice is owned by the
// Response; callers must not modify it.
func (r *Response) Bytes() []byte {
	return r.body
}

// Text returns the body as a string. Invalid UTF-8 sequences are
// replaced with the replacement character; Bytes preserves the raw
// form.
func (r *Response) Text() string {
	if utf8.Valid(r.body) {
		return string(r.body)
	}
	return strings.ToValidUTF8(string(r.body), "�")
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "response body is not valid JSON")
	}
	return nil
}

// Header returns the named response header, matching case-insensitively
// per HTTP semantics. Absent headers return an empty string.
func (r *Response) Header(name string) string {
	return headerLookup(r.Headers, name)
}

func headerLookup(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
