// Package wire implements the store's request framing and response
// serialization: a length-prefixed request of byte-string arguments, and
// a tagged-value response body (NIL, ERR, STR, INT, DBL, ARR). All
// multi-byte integers are little-endian; strings are raw bytes with no
// terminator.
package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// MaxMsg is the store's built-in default for a request's total_len and a
// response's body_len, used by DefaultLimits. A running server may override
// it via Config; ReadRequest and Encode always take the effective Limits
// explicitly rather than reading this constant directly.
const MaxMsg = 4096

// MaxArgs is the store's built-in default for a request's argument count,
// used by DefaultLimits.
const MaxArgs = 1024

// Limits bounds the framing ReadRequest and Encode enforce. A Server
// derives Limits from its Config, so operators can raise or lower
// max_msg/max_args without recompiling.
type Limits struct {
	MaxMsg  int
	MaxArgs int
}

// DefaultLimits returns the limits in effect when nothing overrides them.
func DefaultLimits() Limits {
	return Limits{MaxMsg: MaxMsg, MaxArgs: MaxArgs}
}

// ErrCode tags an ERR response.
type ErrCode int32

const (
	ErrUnknown ErrCode = 1
	Err2Big    ErrCode = 2
	ErrType    ErrCode = 3
	ErrArg     ErrCode = 4
)

const (
	tagNil byte = 0
	tagErr byte = 1
	tagStr byte = 2
	tagInt byte = 3
	tagDbl byte = 4
	tagArr byte = 5
)

// ErrMalformed marks a request that cannot be parsed as a protocol
// violation: the caller must close the connection without a reply.
var ErrMalformed = errors.New("wire: malformed request")

// ErrTooBig marks a request whose declared length exceeds Limits.MaxMsg: the
// caller must close the connection without a reply.
var ErrTooBig = errors.New("wire: request exceeds max message size")

// Value is a tagged response value.
type Value interface {
	encodeInto(buf *bytes.Buffer)
}

// Nil is the NIL response value.
type Nil struct{}

func (Nil) encodeInto(buf *bytes.Buffer) { buf.WriteByte(tagNil) }

// Err is the ERR response value: a code plus a human-readable message.
type Err struct {
	Code ErrCode
	Msg  string
}

func (e Err) encodeInto(buf *bytes.Buffer) {
	buf.WriteByte(tagErr)
	putU32(buf, uint32(int32(e.Code)))
	putU32(buf, uint32(len(e.Msg)))
	buf.WriteString(e.Msg)
}

// Str is the STR response value.
type Str string

func (s Str) encodeInto(buf *bytes.Buffer) {
	buf.WriteByte(tagStr)
	putU32(buf, uint32(len(s)))
	buf.WriteString(string(s))
}

// Int is the INT response value.
type Int int64

func (i Int) encodeInto(buf *bytes.Buffer) {
	buf.WriteByte(tagInt)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(i))
	buf.Write(b[:])
}

// Dbl is the DBL response value.
type Dbl float64

func (d Dbl) encodeInto(buf *bytes.Buffer) {
	buf.WriteByte(tagDbl)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(float64(d)))
	buf.Write(b[:])
}

// Arr is the ARR response value: a sequence of nested tagged values.
type Arr []Value

func (a Arr) encodeInto(buf *bytes.Buffer) {
	buf.WriteByte(tagArr)
	putU32(buf, uint32(len(a)))
	for _, v := range a {
		v.encodeInto(buf)
	}
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// Encode serializes v as a full response frame: [u32 body_len][body]. If
// v's serialized body would exceed limits.MaxMsg, the body is replaced
// with an Err2Big ERR value instead.
func Encode(v Value, limits Limits) []byte {
	buf := &bytes.Buffer{}
	v.encodeInto(buf)
	body := buf.Bytes()
	if len(body) > limits.MaxMsg {
		buf2 := &bytes.Buffer{}
		Err{Code: Err2Big, Msg: "Response is too big"}.encodeInto(buf2)
		body = buf2.Bytes()
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

// ReadRequest attempts to frame one request off the front of buf.
//
// If buf does not yet hold a complete request, it returns consumed == 0
// and a nil error: the caller should wait for more bytes. If the
// declared total_len exceeds limits.MaxMsg, or the framed bytes don't
// parse into a well-formed argument vector, it returns a non-nil error
// and the caller must close the connection without a reply.
func ReadRequest(buf []byte, limits Limits) (args [][]byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, nil
	}
	total := binary.LittleEndian.Uint32(buf[:4])
	if total > uint32(limits.MaxMsg) {
		return nil, 0, ErrTooBig
	}
	if uint32(len(buf)) < 4+total {
		return nil, 0, nil
	}
	body := buf[4 : 4+total]
	if len(body) < 4 {
		return nil, 0, ErrMalformed
	}
	argc := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if argc > uint32(limits.MaxArgs) {
		return nil, 0, ErrMalformed
	}
	out := make([][]byte, 0, argc)
	for i := uint32(0); i < argc; i++ {
		if len(body) < 4 {
			return nil, 0, ErrMalformed
		}
		alen := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < alen {
			return nil, 0, ErrMalformed
		}
		out = append(out, body[:alen])
		body = body[alen:]
	}
	if len(body) != 0 {
		return nil, 0, ErrMalformed
	}
	return out, int(4 + total), nil
}

// EncodeRequest builds a request frame from args, for use by clients and
// round-trip tests.
func EncodeRequest(args [][]byte) []byte {
	body := &bytes.Buffer{}
	putU32(body, uint32(len(args)))
	for _, a := range args {
		putU32(body, uint32(len(a)))
		body.Write(a)
	}
	out := make([]byte, 4+body.Len())
	binary.LittleEndian.PutUint32(out, uint32(body.Len()))
	copy(out[4:], body.Bytes())
	return out
}

// Decode parses one tagged value from the front of body, returning the
// value and the number of bytes consumed.
func Decode(body []byte) (Value, int, error) {
	if len(body) < 1 {
		return nil, 0, ErrMalformed
	}
	switch body[0] {
	case tagNil:
		return Nil{}, 1, nil
	case tagErr:
		if len(body) < 9 {
			return nil, 0, ErrMalformed
		}
		code := int32(binary.LittleEndian.Uint32(body[1:5]))
		mlen := binary.LittleEndian.Uint32(body[5:9])
		if uint32(len(body)-9) < mlen {
			return nil, 0, ErrMalformed
		}
		msg := string(body[9 : 9+mlen])
		return Err{Code: ErrCode(code), Msg: msg}, int(9 + mlen), nil
	case tagStr:
		if len(body) < 5 {
			return nil, 0, ErrMalformed
		}
		slen := binary.LittleEndian.Uint32(body[1:5])
		if uint32(len(body)-5) < slen {
			return nil, 0, ErrMalformed
		}
		return Str(body[5 : 5+slen]), int(5 + slen), nil
	case tagInt:
		if len(body) < 9 {
			return nil, 0, ErrMalformed
		}
		return Int(int64(binary.LittleEndian.Uint64(body[1:9]))), 9, nil
	case tagDbl:
		if len(body) < 9 {
			return nil, 0, ErrMalformed
		}
		return Dbl(math.Float64frombits(binary.LittleEndian.Uint64(body[1:9]))), 9, nil
	case tagArr:
		if len(body) < 5 {
			return nil, 0, ErrMalformed
		}
		n := binary.LittleEndian.Uint32(body[1:5])
		pos := 5
		out := make(Arr, 0, n)
		for i := uint32(0); i < n; i++ {
			v, used, err := Decode(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			pos += used
		}
		return out, pos, nil
	default:
		return nil, 0, ErrMalformed
	}
}
