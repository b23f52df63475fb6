package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeNil(t *testing.T) {
	out := Encode(Nil{}, DefaultLimits())
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(out, want) {
		t.Fatalf("Encode(Nil{}) = % x, want % x", out, want)
	}
}

func TestEncodeStr(t *testing.T) {
	out := Encode(Str("hello"), DefaultLimits())
	wantBody := []byte{0x02, 0x05, 0x00, 0x00, 0x00, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(out[4:], wantBody) {
		t.Fatalf("body = % x, want % x", out[4:], wantBody)
	}
	if binary.LittleEndian.Uint32(out[:4]) != uint32(len(wantBody)) {
		t.Fatalf("body_len = %d, want %d", binary.LittleEndian.Uint32(out[:4]), len(wantBody))
	}
}

func TestEncodeIntMatchesScenarioS1(t *testing.T) {
	out := Encode(Int(1), DefaultLimits())
	wantBody := []byte{0x03, 0x01, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(out[4:], wantBody) {
		t.Fatalf("body = % x, want % x", out[4:], wantBody)
	}
}

func TestEncodeErr(t *testing.T) {
	out := Encode(Err{Code: ErrType, Msg: "expect zset type"}, DefaultLimits())
	if out[4] != tagErr {
		t.Fatalf("tag = %d, want ERR", out[4])
	}
	code := int32(binary.LittleEndian.Uint32(out[5:9]))
	if code != int32(ErrType) {
		t.Fatalf("code = %d, want %d", code, ErrType)
	}
	mlen := binary.LittleEndian.Uint32(out[9:13])
	if int(mlen) != len("expect zset type") {
		t.Fatalf("msg len = %d", mlen)
	}
	if string(out[13:13+mlen]) != "expect zset type" {
		t.Fatalf("msg = %q", out[13:13+mlen])
	}
}

func TestEncodeArr(t *testing.T) {
	out := Encode(Arr{Str("b"), Dbl(2.0), Str("c"), Dbl(2.0)}, DefaultLimits())
	v, used, err := Decode(out[4:])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if used != len(out)-4 {
		t.Fatalf("consumed %d, want %d", used, len(out)-4)
	}
	arr, ok := v.(Arr)
	if !ok || len(arr) != 4 {
		t.Fatalf("Decode() = %#v", v)
	}
	if arr[0].(Str) != "b" || arr[2].(Str) != "c" {
		t.Fatalf("Decode() = %#v", arr)
	}
}

func TestEncode2BigReplacesOversizeBody(t *testing.T) {
	out := Encode(Str(string(make([]byte, MaxMsg+1))), DefaultLimits())
	body := out[4:]
	if body[0] != tagErr {
		t.Fatalf("tag = %d, want ERR", body[0])
	}
	code := int32(binary.LittleEndian.Uint32(body[1:5]))
	if code != int32(Err2Big) {
		t.Fatalf("code = %d, want Err2Big", code)
	}
}

func TestRoundTripAllTags(t *testing.T) {
	values := []Value{
		Nil{},
		Err{Code: ErrArg, Msg: "bad score"},
		Str(""),
		Str("nonempty"),
		Int(-1),
		Int(0),
		Dbl(3.5),
		Arr{},
		Arr{Str("x"), Int(7), Arr{Nil{}}},
	}
	for _, v := range values {
		out := Encode(v, DefaultLimits())
		decoded, used, err := Decode(out[4:])
		if err != nil {
			t.Fatalf("Decode(%#v) error = %v", v, err)
		}
		if used != len(out)-4 {
			t.Fatalf("Decode(%#v) consumed %d, want %d", v, used, len(out)-4)
		}
		reEncoded := Encode(decoded, DefaultLimits())
		if !bytes.Equal(reEncoded, out) {
			t.Fatalf("round trip mismatch for %#v: % x != % x", v, reEncoded, out)
		}
	}
}

func TestReadRequestNeedsMoreData(t *testing.T) {
	full := EncodeRequest([][]byte{[]byte("get"), []byte("k")})
	for i := 0; i < len(full); i++ {
		args, consumed, err := ReadRequest(full[:i], DefaultLimits())
		if err != nil {
			t.Fatalf("partial buffer at %d: unexpected error %v", i, err)
		}
		if consumed != 0 || args != nil {
			t.Fatalf("partial buffer at %d: should not frame yet", i)
		}
	}
	args, consumed, err := ReadRequest(full, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if consumed != len(full) {
		t.Fatalf("consumed %d, want %d", consumed, len(full))
	}
	if len(args) != 2 || string(args[0]) != "get" || string(args[1]) != "k" {
		t.Fatalf("args = %v", args)
	}
}

func TestReadRequestTrailingBytesIgnoresFurtherRequests(t *testing.T) {
	a := EncodeRequest([][]byte{[]byte("a")})
	b := EncodeRequest([][]byte{[]byte("bb")})
	both := append(append([]byte{}, a...), b...)
	args, consumed, err := ReadRequest(both, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if consumed != len(a) || len(args) != 1 || string(args[0]) != "a" {
		t.Fatalf("first frame = %v, %d", args, consumed)
	}
	args, consumed, err = ReadRequest(both[consumed:], DefaultLimits())
	if err != nil {
		t.Fatalf("ReadRequest() second frame error = %v", err)
	}
	if consumed != len(b) || len(args) != 1 || string(args[0]) != "bb" {
		t.Fatalf("second frame = %v, %d", args, consumed)
	}
}

func TestReadRequestTooBig(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxMsg+1)
	_, _, err := ReadRequest(hdr[:], DefaultLimits())
	if err != ErrTooBig {
		t.Fatalf("err = %v, want ErrTooBig", err)
	}
}

func TestReadRequestTooManyArgs(t *testing.T) {
	body := &bytes.Buffer{}
	var argc [4]byte
	binary.LittleEndian.PutUint32(argc[:], MaxArgs+1)
	body.Write(argc[:])
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(body.Len()))
	buf := append(append([]byte{}, hdr[:]...), body.Bytes()...)
	_, _, err := ReadRequest(buf, DefaultLimits())
	if err != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestReadRequestAtExactlyMaxMsg(t *testing.T) {
	// One argument whose value fills the frame out to exactly MaxMsg total_len.
	// total_len = 4 (argc) + 4 (len) + N == MaxMsg
	n := MaxMsg - 8
	args := [][]byte{make([]byte, n)}
	full := EncodeRequest(args)
	total := binary.LittleEndian.Uint32(full[:4])
	if total != MaxMsg {
		t.Fatalf("constructed total_len = %d, want %d", total, MaxMsg)
	}
	got, consumed, err := ReadRequest(full, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadRequest() at exactly MaxMsg error = %v", err)
	}
	if consumed != len(full) || len(got[0]) != n {
		t.Fatalf("consumed = %d, len(got[0]) = %d", consumed, len(got[0]))
	}
}
