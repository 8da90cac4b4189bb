package fsstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Record header layout (little endian):
//
//	0  magic "NDI1"
//	4  version u32, major in the high 16 bits
//	8  body length u64
//	16 crc32 (IEEE) of the body
//	20 reserved, zero
const (
	HeaderSize   = 32
	Magic        = "NDI1"
	VersionMajor = 1
	VersionMinor = 0
)

// Body field numbers. The body is a protobuf-wire message whose field 1
// holds the document tree.
const (
	fieldTree protowire.Number = 1
)

// Value field numbers. Exactly one is set per value.
const (
	valNull   protowire.Number = 1
	valString protowire.Number = 2
	valInt    protowire.Number = 3 // zigzag
	valFloat  protowire.Number = 4 // fixed64 IEEE-754
	valBool   protowire.Number = 5
	valArray  protowire.Number = 6 // repeated 1 = value
	valObject protowire.Number = 7 // repeated 1 = entry{1 key, 2 value}
)

// Record is a decoded .dat file. Unknown holds top-level fields written by a
// newer minor version; they are carried through re-encoding untouched.
type Record struct {
	Tree    ir.IRObject
	Unknown []byte
}

// EncodeRecord renders r with its header. Object entries are written in
// sorted key order so equal trees give equal bytes.
func EncodeRecord(r Record) ([]byte, error) {
	tree, err := appendValue(nil, r.Tree)
	if err != nil {
		return nil, err
	}
	msg := protowire.AppendTag(nil, fieldTree, protowire.BytesType)
	msg = protowire.AppendBytes(msg, tree)
	msg = append(msg, r.Unknown...)

	out := make([]byte, HeaderSize, HeaderSize+len(msg))
	copy(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], VersionMajor<<16|VersionMinor)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(msg)))
	binary.LittleEndian.PutUint32(out[16:20], crc32.ChecksumIEEE(msg))
	return append(out, msg...), nil
}

// DecodeRecord parses a .dat file. Unknown major versions, short files and
// checksum mismatches are INVALID_ARGUMENT.
func DecodeRecord(data []byte) (Record, error) {
	const op = "fsstore.decode"
	if len(data) < HeaderSize {
		return Record{}, ndierr.Invalid(op, "record is %d bytes, shorter than its header", len(data))
	}
	if !bytes.Equal(data[0:4], []byte(Magic)) {
		return Record{}, ndierr.Invalid(op, "bad magic %q", data[0:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if major := version >> 16; major != VersionMajor {
		return Record{}, ndierr.Invalid(op, "unsupported record version %d.%d", major, version&0xffff)
	}
	n := binary.LittleEndian.Uint64(data[8:16])
	if n != uint64(len(data)-HeaderSize) {
		return Record{}, ndierr.Invalid(op, "body length %d, header says %d", len(data)-HeaderSize, n)
	}
	msg := data[HeaderSize:]
	if sum := crc32.ChecksumIEEE(msg); sum != binary.LittleEndian.Uint32(data[16:20]) {
		return Record{}, ndierr.Invalid(op, "checksum mismatch")
	}

	var rec Record
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return Record{}, ndierr.Wrap(ndierr.KindInvalidArgument, op, protowire.ParseError(n))
		}
		if num == fieldTree && typ == protowire.BytesType {
			raw, m := protowire.ConsumeBytes(msg[n:])
			if m < 0 {
				return Record{}, ndierr.Wrap(ndierr.KindInvalidArgument, op, protowire.ParseError(m))
			}
			v, err := decodeValue(raw)
			if err != nil {
				return Record{}, ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
			}
			obj, ok := v.(ir.IRObject)
			if !ok {
				return Record{}, ndierr.Invalid(op, "tree is %s, want object", ir.TypeName(v))
			}
			rec.Tree = obj
			msg = msg[n+m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, msg[n:])
		if m < 0 {
			return Record{}, ndierr.Wrap(ndierr.KindInvalidArgument, op, protowire.ParseError(m))
		}
		rec.Unknown = append(rec.Unknown, msg[:n+m]...)
		msg = msg[n+m:]
	}
	if rec.Tree == nil {
		return Record{}, ndierr.Invalid(op, "record has no tree")
	}
	return rec, nil
}

func appendValue(b []byte, v ir.IRValue) ([]byte, error) {
	switch v := v.(type) {
	case nil, ir.IRNull:
		b = protowire.AppendTag(b, valNull, protowire.VarintType)
		return protowire.AppendVarint(b, 0), nil
	case ir.IRString:
		b = protowire.AppendTag(b, valString, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case ir.IRInt:
		b = protowire.AppendTag(b, valInt, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v))), nil
	case ir.IRFloat:
		b = protowire.AppendTag(b, valFloat, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(v))), nil
	case ir.IRBool:
		b = protowire.AppendTag(b, valBool, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(bool(v))), nil
	case ir.IRArray:
		var inner []byte
		for _, e := range v {
			ev, err := appendValue(nil, e)
			if err != nil {
				return nil, err
			}
			inner = protowire.AppendTag(inner, 1, protowire.BytesType)
			inner = protowire.AppendBytes(inner, ev)
		}
		b = protowire.AppendTag(b, valArray, protowire.BytesType)
		return protowire.AppendBytes(b, inner), nil
	case ir.IRObject:
		var inner []byte
		for _, k := range v.SortedKeys() {
			ev, err := appendValue(nil, v[k])
			if err != nil {
				return nil, err
			}
			var entry []byte
			entry = protowire.AppendTag(entry, 1, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
			entry = protowire.AppendTag(entry, 2, protowire.BytesType)
			entry = protowire.AppendBytes(entry, ev)
			inner = protowire.AppendTag(inner, 1, protowire.BytesType)
			inner = protowire.AppendBytes(inner, entry)
		}
		b = protowire.AppendTag(b, valObject, protowire.BytesType)
		return protowire.AppendBytes(b, inner), nil
	default:
		return nil, fmt.Errorf("cannot encode %T", v)
	}
}

// decodeValue reads one value message. Unknown fields are skipped; a value
// with no known field decodes as null.
func decodeValue(b []byte) (ir.IRValue, error) {
	var out ir.IRValue = ir.IRNull{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == valNull && typ == protowire.VarintType:
			_, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			out, b = ir.IRNull{}, b[m:]
		case num == valString && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			out, b = ir.IRString(s), b[m:]
		case num == valInt && typ == protowire.VarintType:
			x, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			out, b = ir.IRInt(protowire.DecodeZigZag(x)), b[m:]
		case num == valFloat && typ == protowire.Fixed64Type:
			x, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			out, b = ir.IRFloat(math.Float64frombits(x)), b[m:]
		case num == valBool && typ == protowire.VarintType:
			x, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			out, b = ir.IRBool(protowire.DecodeBool(x)), b[m:]
		case num == valArray && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			arr, err := decodeArray(raw)
			if err != nil {
				return nil, err
			}
			out, b = arr, b[m:]
		case num == valObject && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			obj, err := decodeObject(raw)
			if err != nil {
				return nil, err
			}
			out, b = obj, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return out, nil
}

func decodeArray(b []byte) (ir.IRArray, error) {
	arr := ir.IRArray{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		raw, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		v, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		b = b[m:]
	}
	return arr, nil
}

func decodeObject(b []byte) (ir.IRObject, error) {
	obj := ir.IRObject{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		raw, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		k, v, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		obj[k] = v
		b = b[m:]
	}
	return obj, nil
}

func decodeEntry(b []byte) (string, ir.IRValue, error) {
	var (
		key string
		val ir.IRValue = ir.IRNull{}
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return "", nil, protowire.ParseError(m)
			}
			key, b = s, b[m:]
		case num == 2 && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", nil, protowire.ParseError(m)
			}
			v, err := decodeValue(raw)
			if err != nil {
				return "", nil, err
			}
			val, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return "", nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return key, val, nil
}
