package rested

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Supported media types.
const (
	MediaJSON    = "application/json"
	MediaMsgpack = "application/msgpack"
)

// codec encodes request and response bodies for one media type.
type codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return MediaJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// msgpackCodec falls back to json tags so entities need only one set of tags.
type msgpackCodec struct{}

func (msgpackCodec) ContentType() string { return MediaMsgpack }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func isMsgpack(mediaType string) bool {
	switch mediaType {
	case MediaMsgpack, "application/x-msgpack", "application/vnd.msgpack":
		return true
	default:
		return false
	}
}

// requestCodec picks the decoder from Content-Type. Anything but msgpack is
// treated as JSON.
func requestCodec(r *http.Request) codec {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && isMsgpack(mediaType) {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

// responseCodec picks the encoder from Accept. The first supported media type
// listed wins; JSON is the default.
func responseCodec(r *http.Request) codec {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if isMsgpack(mediaType) {
			return msgpackCodec{}
		}
		if mediaType == MediaJSON || mediaType == "*/*" || mediaType == "application/*" {
			return jsonCodec{}
		}
	}
	return jsonCodec{}
}
