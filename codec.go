package rescache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FormatVersion is the only version byte this codec understands. Entries
// written with a different version are treated as a miss on read.
const FormatVersion int32 = 1

const (
	kindBody      byte = 'B'
	kindResponse  byte = 'R'
	kindVaryRules byte = 'V'
)

// ErrInvalidArgument is returned by Serialize(nil).
var ErrInvalidArgument = errors.New("rescache: invalid argument")

// ErrUnsupportedKind is returned by Serialize when x is not one of
// CachedResponseBody, CachedResponse, or CachedVaryRules.
var ErrUnsupportedKind = errors.New("rescache: unsupported entry kind")

// Serialize encodes one of *CachedResponseBody, *CachedResponse, or
// *CachedVaryRules into the persisted binary format: a FormatVersion
// int32, a one-byte kind discriminator, and a kind-specific payload.
func Serialize(x any) ([]byte, error) {
	if x == nil {
		return nil, ErrInvalidArgument
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, FormatVersion); err != nil {
		return nil, err
	}

	switch v := x.(type) {
	case *CachedResponseBody:
		buf.WriteByte(kindBody)
		writeBytes(&buf, v.Body)
	case *CachedResponse:
		buf.WriteByte(kindResponse)
		writeString(&buf, v.BodyKeyPrefix)
		writeInt64(&buf, v.Created.UTC().UnixNano()/100)
		writeInt32(&buf, int32(v.StatusCode))
		writeHeaders(&buf, v.Headers)
		containsBody := v.Body != nil
		writeBool(&buf, containsBody)
		if containsBody {
			writeBytes(&buf, v.Body)
		}
	case *CachedVaryRules:
		buf.WriteByte(kindVaryRules)
		writeString(&buf, v.VaryKeyPrefix)
		writeStringSlice(&buf, v.Headers)
		writeStringSlice(&buf, v.Params)
	default:
		return nil, ErrUnsupportedKind
	}

	return buf.Bytes(), nil
}

// Deserialize decodes bytes previously produced by Serialize. It returns
// nil, with no error, on a nil input, a version mismatch, an unknown kind
// tag, or any read short of the declared length: all of these are
// reported as a plain miss, never as an error that would surface past
// the Cache Store Wrapper.
func Deserialize(data []byte) any {
	if data == nil {
		return nil
	}

	r := bytes.NewReader(data)

	var version int32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil
	}
	if version != FormatVersion {
		return nil
	}

	kind, err := r.ReadByte()
	if err != nil {
		return nil
	}

	switch kind {
	case kindBody:
		body, err := readBytes(r)
		if err != nil {
			return nil
		}
		return &CachedResponseBody{Body: body}
	case kindResponse:
		return deserializeResponse(r)
	case kindVaryRules:
		return deserializeVaryRules(r)
	default:
		return nil
	}
}

func deserializeResponse(r *bytes.Reader) any {
	bodyKeyPrefix, err := readString(r)
	if err != nil {
		return nil
	}
	ticks, err := readInt64(r)
	if err != nil {
		return nil
	}
	statusCode, err := readInt32(r)
	if err != nil {
		return nil
	}
	headers, err := readHeaders(r)
	if err != nil {
		return nil
	}
	containsBody, err := readBool(r)
	if err != nil {
		return nil
	}
	var body []byte
	if containsBody {
		body, err = readBytes(r)
		if err != nil {
			return nil
		}
	}

	created := time.Unix(0, ticks*100).UTC()
	return &CachedResponse{
		BodyKeyPrefix: bodyKeyPrefix,
		Created:       created,
		StatusCode:    int(statusCode),
		Headers:       headers,
		Body:          body,
	}
}

func deserializeVaryRules(r *bytes.Reader) any {
	prefix, err := readString(r)
	if err != nil {
		return nil
	}
	headers, err := readStringSlice(r)
	if err != nil {
		return nil
	}
	params, err := readStringSlice(r)
	if err != nil {
		return nil
	}
	return &CachedVaryRules{
		VaryKeyPrefix: prefix,
		Headers:       headers,
		Params:        params,
	}
}

// --- primitive encoders/decoders ---

func writeInt32(buf *bytes.Buffer, v int32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeInt32(buf, int32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeStringSlice(buf *bytes.Buffer, ss []string) {
	writeInt32(buf, int32(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func writeHeaders(buf *bytes.Buffer, h http.Header) {
	writeInt32(buf, int32(len(h)))
	for key, values := range h {
		writeString(buf, key)
		writeString(buf, joinHeaderValues(values))
	}
}

func joinHeaderValues(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func readInt32(r *bytes.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("rescache: negative length %d", n)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readStringSlice(r *bytes.Reader) ([]string, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("rescache: negative count %d", n)
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func readHeaders(r *bytes.Reader) (http.Header, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("rescache: negative header count %d", n)
	}
	h := make(http.Header, n)
	for i := int32(0); i < n; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		value, err := readString(r)
		if err != nil {
			return nil, err
		}
		h[key] = []string{value}
	}
	return h, nil
}
