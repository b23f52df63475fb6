// nanokv-cli assembles one request from its command-line arguments,
// sends it to a running server, and prints the single reply.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/mattn/go-isatty"

	"github.com/zond/nanokv/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1234", "Server address.")
	shell := flag.Bool("shell", false, "Treat a single quoted argument as a shell-style command line.")
	flag.Parse()

	args := flag.Args()
	if *shell && len(args) == 1 {
		split, err := shellwords.Split(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "nanokv-cli: %v\n", err)
			os.Exit(1)
		}
		args = split
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-addr host:port] command [args...]\n", os.Args[0])
		os.Exit(1)
	}

	conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-cli: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}
	if _, err := conn.Write(wire.EncodeRequest(byteArgs)); err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-cli: %v\n", err)
		os.Exit(1)
	}

	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-cli: %v\n", err)
		os.Exit(1)
	}
	body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := readFull(conn, body); err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-cli: %v\n", err)
		os.Exit(1)
	}
	value, _, err := wire.Decode(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-cli: malformed response: %v\n", err)
		os.Exit(1)
	}

	printResponse(value)
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

func printResponse(v wire.Value) {
	code, body := describe(v)
	if isatty.IsTerminal(os.Stdout.Fd()) && code != 0 {
		fmt.Printf("server says: [\033[31m%d\033[0m] %s\n", code, body)
		return
	}
	fmt.Printf("server says: [%d] %s\n", code, body)
}

func describe(v wire.Value) (code int, body string) {
	switch val := v.(type) {
	case wire.Nil:
		return 0, "(nil)"
	case wire.Err:
		return int(val.Code), val.Msg
	case wire.Str:
		return 0, string(val)
	case wire.Int:
		return 0, fmt.Sprintf("%d", int64(val))
	case wire.Dbl:
		return 0, fmt.Sprintf("%g", float64(val))
	case wire.Arr:
		out := ""
		for i, e := range val {
			if i > 0 {
				out += ", "
			}
			_, s := describe(e)
			out += s
		}
		return 0, "[" + out + "]"
	default:
		return 0, fmt.Sprintf("%v", v)
	}
}
