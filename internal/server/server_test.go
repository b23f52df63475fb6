package server

import (
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/zond/nanokv/internal/config"
	"github.com/zond/nanokv/internal/wire"
)

var testAddr string

// TestMain starts one shared server for every test in the package, the
// way the store's original end-to-end suite shares one server across
// its scenarios.
func TestMain(m *testing.M) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		os.Exit(1)
	}
	cfg.ListenAddr = ln.Addr().String()
	ln.Close()

	srv, err := New(cfg)
	if err != nil {
		os.Exit(1)
	}
	testAddr = cfg.ListenAddr
	go srv.Run()
	time.Sleep(50 * time.Millisecond)

	os.Exit(m.Run())
}

func dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, args ...string) wire.Value {
	t.Helper()
	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}
	if _, err := conn.Write(wire.EncodeRequest(byteArgs)); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	return readResponse(t, conn)
}

func readResponse(t *testing.T, conn net.Conn) wire.Value {
	t.Helper()
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, bodyLen)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	v, _, err := wire.Decode(body)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	return v
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func TestSetGetDelOverTheWire(t *testing.T) {
	conn := dial(t)
	defer conn.Close()

	if got := sendRequest(t, conn, "set", "k", "hello"); got != (wire.Nil{}) {
		t.Fatalf("set = %#v", got)
	}
	if got := sendRequest(t, conn, "get", "k"); got != wire.Str("hello") {
		t.Fatalf("get = %#v", got)
	}
	if got := sendRequest(t, conn, "del", "k"); got != wire.Int(1) {
		t.Fatalf("del = %#v", got)
	}
	if got := sendRequest(t, conn, "get", "k"); got != (wire.Nil{}) {
		t.Fatalf("get after del = %#v", got)
	}
}

func TestCaseInsensitiveOverTheWire(t *testing.T) {
	conn := dial(t)
	defer conn.Close()
	if got := sendRequest(t, conn, "SET", "kk", "v"); got != (wire.Nil{}) {
		t.Fatalf("SET = %#v", got)
	}
	if got := sendRequest(t, conn, "GeT", "kk"); got != wire.Str("v") {
		t.Fatalf("GeT = %#v", got)
	}
}

func TestZSetOverTheWire(t *testing.T) {
	conn := dial(t)
	defer conn.Close()
	if got := sendRequest(t, conn, "zadd", "zs", "1", "a"); got != wire.Int(1) {
		t.Fatalf("zadd = %#v", got)
	}
	if got := sendRequest(t, conn, "zadd", "zs", "2", "b"); got != wire.Int(1) {
		t.Fatalf("zadd = %#v", got)
	}
	got, ok := sendRequest(t, conn, "zquery", "zs", "-1e18", "", "0", "10").(wire.Arr)
	if !ok || len(got) != 4 {
		t.Fatalf("zquery = %#v", got)
	}
}

func TestSequentialRequestsOnOneConnectionPreserveOrder(t *testing.T) {
	conn := dial(t)
	defer conn.Close()
	for i := 0; i < 20; i++ {
		sendRequest(t, conn, "set", "seq", "v")
	}
	if got := sendRequest(t, conn, "get", "seq"); got != wire.Str("v") {
		t.Fatalf("get = %#v", got)
	}
}

func TestRequestExactlyAtMaxMsgSucceeds(t *testing.T) {
	conn := dial(t)
	defer conn.Close()
	n := wire.MaxMsg - 8 - len("set") - len("k") - 8
	value := string(make([]byte, n))
	if got := sendRequest(t, conn, "set", "k", value); got != (wire.Nil{}) {
		t.Fatalf("set = %#v", got)
	}
}

func TestOversizeRequestClosesConnection(t *testing.T) {
	conn := dial(t)
	defer conn.Close()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], wire.MaxMsg+1)
	conn.Write(hdr[:])
	conn.Write(make([]byte, wire.MaxMsg+1))
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatal("read after oversize request should fail (connection closed)")
	}
}

// startServer brings up a standalone server under cfg and returns its
// address, for tests that need a Config other than TestMain's shared
// defaults.
func startServer(t *testing.T, cfg config.Config) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	cfg.ListenAddr = ln.Addr().String()
	ln.Close()

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	go srv.Run()
	t.Cleanup(srv.Shutdown)
	time.Sleep(50 * time.Millisecond)
	return cfg.ListenAddr
}

// TestConfiguredMaxMsgOverridesDefault proves that a Config with a
// lowered max_msg is actually enforced by the running server's framing,
// not just sized into the read buffer: a request within the configured
// limit is framed and answered, and one between the configured limit and
// the package default is rejected rather than silently accepted.
func TestConfiguredMaxMsgOverridesDefault(t *testing.T) {
	cfg := config.Default()
	cfg.MaxMsg = 256
	addr := startServer(t, cfg)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if got := sendRequest(t, conn, "set", "k", "v"); got != (wire.Nil{}) {
		t.Fatalf("set within configured limit = %#v", got)
	}

	conn2, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer conn2.Close()
	conn2.SetDeadline(time.Now().Add(2 * time.Second))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(cfg.MaxMsg)+1)
	conn2.Write(hdr[:])
	conn2.Write(make([]byte, cfg.MaxMsg+1))
	buf := make([]byte, 1)
	if _, err := conn2.Read(buf); err == nil {
		t.Fatal("request declaring total_len above the configured max_msg should close the connection")
	}
}
