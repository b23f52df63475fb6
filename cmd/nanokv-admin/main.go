// nanokv-admin is a small read-only introspection tool: it connects to a
// running server, issues a handful of commands, and pretty-prints the
// results.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rodaine/table"

	"github.com/zond/nanokv/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1234", "Server address.")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-admin: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	start := time.Now()
	size, err := request(conn, "dbsize")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-admin: %v\n", err)
		os.Exit(1)
	}
	keys, err := request(conn, "keys")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-admin: %v\n", err)
		os.Exit(1)
	}
	help, err := request(conn, "command")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanokv-admin: %v\n", err)
		os.Exit(1)
	}

	n, _ := size.(wire.Int)
	fmt.Printf("keys live: %s (fetched in %s)\n\n", humanize.Comma(int64(n)), time.Since(start))

	tbl := table.New("Key")
	if arr, ok := keys.(wire.Arr); ok {
		for _, v := range arr {
			if s, ok := v.(wire.Str); ok {
				tbl.AddRow(string(s))
			}
		}
	}
	tbl.Print()

	if s, ok := help.(wire.Str); ok {
		fmt.Printf("\ncommands: %s\n", s)
	}
}

func request(conn net.Conn, args ...string) (wire.Value, error) {
	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}
	if _, err := conn.Write(wire.EncodeRequest(byteArgs)); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := readFull(conn, body); err != nil {
		return nil, err
	}
	v, _, err := wire.Decode(body)
	return v, err
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
