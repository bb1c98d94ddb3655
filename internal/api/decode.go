package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice/internal/tts"
)

// bodyKind is where a request carries its text and overrides.
type bodyKind int

const (
	kindQuery bodyKind = iota
	kindJSON
	kindRaw
)

var errMethod = errors.New("method not allowed")

// classify picks the decoding variant once from method and content type.
func classify(r *http.Request) (bodyKind, error) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return kindQuery, nil
	case http.MethodPost:
		if isJSON(r.Header.Get("Content-Type")) {
			return kindJSON, nil
		}
		return kindRaw, nil
	default:
		return 0, errMethod
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Decode extracts the raw text and the recognized synthesis overrides from
// a request. The text is returned untrimmed. Failures wrap tts.ErrDecode.
func Decode(r *http.Request) (string, tts.Overrides, error) {
	kind, err := classify(r)
	if err != nil {
		return "", nil, err
	}
	switch kind {
	case kindJSON:
		return decodeJSON(r.Body)
	case kindRaw:
		return decodeRaw(r.Body)
	default:
		text, overrides := decodeQuery(r)
		return text, overrides, nil
	}
}

func decodeJSON(body io.Reader) (string, tts.Overrides, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return "", nil, fmt.Errorf("%w: %s", tts.ErrDecode, bodyError(err))
	}
	if data == nil {
		return "", nil, fmt.Errorf("%w: body must be a JSON object", tts.ErrDecode)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", nil, fmt.Errorf("%w: unexpected data after JSON object", tts.ErrDecode)
	}

	var text string
	switch v := data["text"].(type) {
	case nil:
	case string:
		text = v
	default:
		return "", nil, fmt.Errorf("%w: text must be a string", tts.ErrDecode)
	}

	overrides := tts.Overrides{}
	for _, name := range tts.FieldNames {
		if v, ok := data[name]; ok {
			overrides[name] = v
		}
	}
	return text, overrides, nil
}

func decodeRaw(body io.Reader) (string, tts.Overrides, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", tts.ErrDecode, bodyError(err))
	}
	if !utf8.Valid(data) {
		return "", nil, fmt.Errorf("%w: body is not valid UTF-8", tts.ErrDecode)
	}
	return string(data), tts.Overrides{}, nil
}

// decodeQuery coerces each recognized parameter to its declared type.
// Values that do not parse are dropped, as if they were never sent.
func decodeQuery(r *http.Request) (string, tts.Overrides) {
	q := r.URL.Query()
	overrides := tts.Overrides{}
	for _, name := range tts.FieldNames {
		if !q.Has(name) {
			continue
		}
		raw := strings.TrimSpace(q.Get(name))
		if tts.IsIntField(name) {
			if v, err := strconv.Atoi(raw); err == nil {
				overrides[name] = v
			}
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			overrides[name] = v
		}
	}
	return q.Get("text"), overrides
}

func bodyError(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Sprintf("body exceeds %d bytes", maxErr.Limit)
	}
	if errors.Is(err, io.EOF) {
		return "empty body"
	}
	return err.Error()
}
