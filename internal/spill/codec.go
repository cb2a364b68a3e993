package spill

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/types"
)

const (
	magic         = "ACSP"
	formatVersion = 1

	flagZstd = 1 << 0

	// magic | version | kind | flags | rows
	headerSize   = len(magic) + 3 + 4
	checksumSize = 8
)

// Codec converts payloads to and from the spill object format:
//
//	"ACSP" | version u8 | kind u8 | flags u8 | rows u32 |
//	row lengths u32 x rows | body | xxhash64(body) u64
//
// Rank 1 payloads are written as a single row. The body holds the elements
// little-endian, zstd-compressed when flagZstd is set. The checksum covers the
// uncompressed body. Spill objects are private to one process run.
type Codec struct {
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewCodec creates a codec. Compressed objects are always readable; compress
// only controls what Encode writes.
func NewCodec(compress bool) (*Codec, error) {
	c := &Codec{compress: compress}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to create zstd decoder")
	}
	c.decoder = dec

	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			dec.Close()
			return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to create zstd encoder")
		}
		c.encoder = enc
	}

	return c, nil
}

// Compressed reports whether Encode compresses bodies.
func (c *Codec) Compressed() bool {
	return c.compress
}

// Close releases the zstd resources.
func (c *Codec) Close() error {
	if c.encoder != nil {
		if err := c.encoder.Close(); err != nil {
			return err
		}
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}

// Encode serializes p.
func (c *Codec) Encode(p types.Payload) ([]byte, error) {
	if p == nil || !p.Kind().Valid() {
		return nil, errors.New(errors.ErrCodeUnsupportedPayloadShape, "cannot encode payload").
			WithComponent("spill_codec")
	}

	lens := rowLengths(p)
	head := make([]byte, 0, headerSize+4*len(lens))
	head = append(head, magic...)
	head = append(head, formatVersion, byte(p.Kind()), 0)
	head = binary.LittleEndian.AppendUint32(head, uint32(len(lens)))
	for _, n := range lens {
		head = binary.LittleEndian.AppendUint32(head, uint32(n))
	}

	body := appendBody(make([]byte, 0, p.ByteSize()), p)
	sum := xxhash.Sum64(body)

	if c.compress {
		head[len(magic)+2] |= flagZstd
		body = c.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}

	out := make([]byte, 0, len(head)+len(body)+checksumSize)
	out = append(out, head...)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint64(out, sum)
	return out, nil
}

// Decode parses a spill object. Any malformation yields CORRUPT_SPILL_FILE.
func (c *Codec) Decode(data []byte) (types.Payload, error) {
	if len(data) < headerSize+checksumSize {
		return nil, corrupt("truncated header (%d bytes)", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, corrupt("bad magic %q", data[:len(magic)])
	}
	pos := len(magic)
	version, kind, flags := data[pos], types.Kind(data[pos+1]), data[pos+2]
	pos += 3
	if version != formatVersion {
		return nil, corrupt("unsupported version %d", version)
	}
	if !kind.Valid() {
		return nil, corrupt("unknown kind %d", kind)
	}

	rows := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if kind.Rank() == 1 && rows != 1 {
		return nil, corrupt("vector with %d rows", rows)
	}
	if rows > (len(data)-pos-checksumSize)/4 {
		return nil, corrupt("row table exceeds object size")
	}

	lens := make([]int, rows)
	var elems int64
	for i := range lens {
		lens[i] = int(binary.LittleEndian.Uint32(data[pos:]))
		elems += int64(lens[i])
		pos += 4
	}

	body := data[pos : len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])

	if flags&flagZstd != 0 {
		raw, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeCorruptSpillFile, err, "failed to decompress body").
				WithComponent("spill_codec")
		}
		body = raw
	}

	if int64(len(body)) != elems*int64(kind.ElemSize()) {
		return nil, corrupt("body is %d bytes, header describes %d", len(body), elems*int64(kind.ElemSize()))
	}
	if got := xxhash.Sum64(body); got != want {
		return nil, corrupt("checksum mismatch: got %016x want %016x", got, want)
	}

	return decodeBody(kind, lens, body), nil
}

// Checksum returns the xxhash64 of p's uncompressed body, the value Encode
// stores in the object trailer.
func Checksum(p types.Payload) uint64 {
	return xxhash.Sum64(appendBody(make([]byte, 0, p.ByteSize()), p))
}

// ObjectChecksum returns the body checksum recorded in an encoded object.
// data must come from Encode or have passed Decode.
func ObjectChecksum(data []byte) uint64 {
	if len(data) < checksumSize {
		return 0
	}
	return binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
}

func corrupt(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeCorruptSpillFile, format, args...).WithComponent("spill_codec")
}

func rowLengths(p types.Payload) []int {
	switch x := p.(type) {
	case types.Bytes:
		return []int{len(x)}
	case types.Bytes2D:
		return lengths(x)
	case types.Shorts:
		return []int{len(x)}
	case types.Shorts2D:
		return lengths(x)
	case types.Ints:
		return []int{len(x)}
	case types.Ints2D:
		return lengths(x)
	case types.Floats:
		return []int{len(x)}
	case types.Floats2D:
		return lengths(x)
	case types.Doubles:
		return []int{len(x)}
	case types.Doubles2D:
		return lengths(x)
	}
	return nil
}

func lengths[T types.Number](rows [][]T) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i] = len(row)
	}
	return out
}

func appendBody(buf []byte, p types.Payload) []byte {
	switch x := p.(type) {
	case types.Bytes:
		return append(buf, x...)
	case types.Bytes2D:
		for _, row := range x {
			buf = append(buf, row...)
		}
		return buf
	case types.Shorts:
		return appendRow(buf, x, putInt16)
	case types.Shorts2D:
		return appendRows(buf, x, putInt16)
	case types.Ints:
		return appendRow(buf, x, putInt32)
	case types.Ints2D:
		return appendRows(buf, x, putInt32)
	case types.Floats:
		return appendRow(buf, x, putFloat32)
	case types.Floats2D:
		return appendRows(buf, x, putFloat32)
	case types.Doubles:
		return appendRow(buf, x, putFloat64)
	case types.Doubles2D:
		return appendRows(buf, x, putFloat64)
	}
	return buf
}

func appendRow[T types.Number](buf []byte, row []T, put func([]byte, T) []byte) []byte {
	for _, v := range row {
		buf = put(buf, v)
	}
	return buf
}

func appendRows[T types.Number](buf []byte, rows [][]T, put func([]byte, T) []byte) []byte {
	for _, row := range rows {
		buf = appendRow(buf, row, put)
	}
	return buf
}

func putInt16(b []byte, v int16) []byte { return binary.LittleEndian.AppendUint16(b, uint16(v)) }
func putInt32(b []byte, v int32) []byte { return binary.LittleEndian.AppendUint32(b, uint32(v)) }
func putFloat32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}
func putFloat64(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func getInt16(b []byte) int16     { return int16(binary.LittleEndian.Uint16(b)) }
func getInt32(b []byte) int32     { return int32(binary.LittleEndian.Uint32(b)) }
func getFloat32(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
func getFloat64(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
func getByte(b []byte) byte       { return b[0] }

func decodeBody(kind types.Kind, lens []int, body []byte) types.Payload {
	switch kind {
	case types.KindByte1D:
		return types.Bytes(readRows(lens, body, 1, getByte)[0])
	case types.KindByte2D:
		return types.Bytes2D(readRows(lens, body, 1, getByte))
	case types.KindShort1D:
		return types.Shorts(readRows(lens, body, 2, getInt16)[0])
	case types.KindShort2D:
		return types.Shorts2D(readRows(lens, body, 2, getInt16))
	case types.KindInt1D:
		return types.Ints(readRows(lens, body, 4, getInt32)[0])
	case types.KindInt2D:
		return types.Ints2D(readRows(lens, body, 4, getInt32))
	case types.KindFloat1D:
		return types.Floats(readRows(lens, body, 4, getFloat32)[0])
	case types.KindFloat2D:
		return types.Floats2D(readRows(lens, body, 4, getFloat32))
	case types.KindDouble1D:
		return types.Doubles(readRows(lens, body, 8, getFloat64)[0])
	case types.KindDouble2D:
		return types.Doubles2D(readRows(lens, body, 8, getFloat64))
	}
	return nil
}

func readRows[T types.Number](lens []int, body []byte, size int, get func([]byte) T) [][]T {
	rows := make([][]T, len(lens))
	for i, n := range lens {
		row := make([]T, n)
		for j := range row {
			row[j] = get(body)
			body = body[size:]
		}
		rows[i] = row
	}
	return rows
}
