package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// maxPartBytes caps how much of a single multipart field is kept.
const maxPartBytes = 64 * 1024

// rawBodyKey is the key a raw string body is reported under.
const rawBodyKey = "rawBody"

// BodyKind tags which variant a BodyParams holds.
type BodyKind string

const (
	BodyNone BodyKind = ""
	BodyJSON BodyKind = "json"
	BodyForm BodyKind = "form"
	BodyRaw  BodyKind = "raw"
)

// BodyParams is the best-effort view of a request body: a decoded JSON value,
// form-encoded fields, or the raw text when neither applies.
type BodyParams struct {
	Kind BodyKind
	JSON any
	Form map[string]string
	Raw  string
}

// JSONBody wraps a decoded JSON value.
func JSONBody(v any) BodyParams {
	return BodyParams{Kind: BodyJSON, JSON: v}
}

// FormBody wraps form fields.
func FormBody(fields map[string]string) BodyParams {
	return BodyParams{Kind: BodyForm, Form: fields}
}

// RawBody wraps body text that could not be decoded any other way.
func RawBody(s string) BodyParams {
	return BodyParams{Kind: BodyRaw, Raw: s}
}

// IsZero reports whether no body was captured.
func (b BodyParams) IsZero() bool {
	return b.Kind == BodyNone
}

// MarshalJSON renders the variant the way observers expect it: JSON values as
// themselves, form fields as an object, raw text as {"rawBody": "..."} and an
// absent body as {}.
func (b BodyParams) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodyJSON:
		return json.Marshal(b.JSON)
	case BodyForm:
		if b.Form == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(b.Form)
	case BodyRaw:
		return json.Marshal(map[string]string{rawBodyKey: b.Raw})
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON accepts what MarshalJSON produces. Form fields come back as a
// JSON object since the two are indistinguishable on the wire.
func (b *BodyParams) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = BodyParams{}
		return nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}

	if obj, ok := v.(map[string]any); ok {
		if len(obj) == 0 {
			*b = BodyParams{}
			return nil
		}
		if raw, ok := obj[rawBodyKey].(string); ok && len(obj) == 1 {
			*b = RawBody(raw)
			return nil
		}
	}

	*b = JSONBody(v)
	return nil
}

// Clone returns a deep copy.
func (b BodyParams) Clone() BodyParams {
	c := b
	c.Form = maps.Clone(b.Form)
	c.JSON = cloneJSON(b.JSON)
	return c
}

func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneJSON(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneJSON(val)
		}
		return s
	default:
		return v
	}
}

// ExtractQueryParams returns the query string of rawURL as a flat map. When a
// key repeats the last value wins. An unparseable URL yields an empty map.
func ExtractQueryParams(rawURL string) map[string]string {
	params := make(map[string]string)

	u, err := url.Parse(rawURL)
	if err != nil {
		return params
	}

	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	return params
}

// ExtractBodyParams decodes a request body. Multipart bodies are read as form
// fields. Otherwise the body is tried as JSON, then as form-encoded when it
// contains "=", and finally kept as raw text. Extraction never fails.
func ExtractBodyParams(body []byte, contentType string) BodyParams {
	if len(bytes.TrimSpace(body)) == 0 {
		return BodyParams{}
	}

	if fields, ok := parseMultipart(body, contentType); ok {
		return FormBody(fields)
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return JSONBody(v)
	}

	text := string(body)
	if strings.Contains(text, "=") {
		if values, err := url.ParseQuery(text); err == nil {
			fields := make(map[string]string, len(values))
			for key, vals := range values {
				if len(vals) > 0 {
					fields[key] = vals[len(vals)-1]
				}
			}
			return FormBody(fields)
		}
	}

	return RawBody(text)
}

// parseMultipart reads multipart/form-data fields. File parts are reported by
// file name.
func parseMultipart(body []byte, contentType string) (map[string]string, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil, false
	}

	fields := make(map[string]string)
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false
		}

		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}

		if filename := part.FileName(); filename != "" {
			fields[name] = filename
			_ = part.Close()
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxPartBytes))
		_ = part.Close()
		if err != nil {
			return nil, false
		}
		fields[name] = string(value)
	}

	return fields, true
}
