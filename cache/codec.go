package cache

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes values for storage.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON stores values as JSON, readable by any other client of the cache.
	JSON Codec = jsonCodec{}
	// Msgpack stores values as msgpack.
	Msgpack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	}
	return nil, errors.Newf("unknown codec %q", name)
}

// compressedMarker prefixes zstd payloads. Neither a JSON document nor a
// single msgpack value can start with it.
var compressedMarker = []byte{0xff, 'z', 's', 't'}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	out := make([]byte, 0, len(compressedMarker)+len(data)/2)
	out = append(out, compressedMarker...)
	return encoder.EncodeAll(data, out)
}

// decompress returns data unchanged unless it carries the compression marker.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, compressedMarker) {
		return data, nil
	}
	out, err := decoder.DecodeAll(data[len(compressedMarker):], nil)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}
	return out, nil
}
