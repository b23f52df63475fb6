// Package command implements the dispatch table that turns a parsed
// argument vector into a keyspace operation and a wire reply. Matching
// is case-insensitive on the first argument; arity mismatches and
// unknown names both produce ERR_UNKNOWN.
package command

import (
	"math"
	"strconv"
	"strings"

	"github.com/zond/nanokv/internal/keyspace"
	"github.com/zond/nanokv/internal/wire"
)

const (
	msgExpectString = "expect string type"
	msgExpectZSet   = "expect zset type"
	msgUnknownCmd   = "Unknown cmd"
)

// Dispatcher binds a command table to one keyspace. It is not safe for
// concurrent use: callers (the event loop) must serialize access, the
// same way they serialize every other keyspace mutation.
type Dispatcher struct {
	KS                *keyspace.Keyspace
	ShutdownRequested bool
}

// New creates a Dispatcher over ks.
func New(ks *keyspace.Keyspace) *Dispatcher {
	return &Dispatcher{KS: ks}
}

type handlerFunc func(d *Dispatcher, nowMicros uint64, args [][]byte) wire.Value

type spec struct {
	name     string
	min, max int // max == -1 means unbounded
	handler  handlerFunc
}

var table = map[string]spec{}

func register(s spec) { table[s.name] = s }

func init() {
	register(spec{"get", 2, 2, cmdGet})
	register(spec{"set", 3, 3, cmdSet})
	register(spec{"del", 2, 2, cmdDel})
	register(spec{"keys", 1, 1, cmdKeys})
	register(spec{"exists", 2, -1, cmdExists})
	register(spec{"expire", 3, 3, cmdExpire})
	register(spec{"pttl", 2, 2, cmdPttl})
	register(spec{"ttl", 2, 2, cmdTTL})
	register(spec{"zadd", 4, 4, cmdZAdd})
	register(spec{"zrem", 3, 3, cmdZRem})
	register(spec{"zscore", 3, 3, cmdZScore})
	register(spec{"zcard", 2, 2, cmdZCard})
	register(spec{"zquery", 6, 6, cmdZQuery})
	register(spec{"type", 2, 2, cmdType})
	register(spec{"flushall", 1, 1, cmdFlushAll})
	register(spec{"dbsize", 1, 1, cmdDBSize})
	register(spec{"command", 1, 2, cmdCommand})
	register(spec{"shutdown", 1, 1, cmdShutdown})
}

// Dispatch looks up args[0] case-insensitively, checks arity, and runs
// the matching handler. An empty args, unknown name, or bad arity all
// yield ERR_UNKNOWN "Unknown cmd".
func (d *Dispatcher) Dispatch(nowMicros uint64, args [][]byte) wire.Value {
	if len(args) == 0 {
		return errUnknown()
	}
	s, ok := table[strings.ToLower(string(args[0]))]
	if !ok {
		return errUnknown()
	}
	if len(args) < s.min || (s.max >= 0 && len(args) > s.max) {
		return errUnknown()
	}
	return s.handler(d, nowMicros, args)
}

func errUnknown() wire.Value { return wire.Err{Code: wire.ErrUnknown, Msg: msgUnknownCmd} }
func errArg(msg string) wire.Value { return wire.Err{Code: wire.ErrArg, Msg: msg} }
func errType(msg string) wire.Value { return wire.Err{Code: wire.ErrType, Msg: msg} }

func boolInt(b bool) wire.Value {
	if b {
		return wire.Int(1)
	}
	return wire.Int(0)
}

// parseScore parses a finite IEEE-754 double consuming the entire
// argument; NaN and infinities are rejected.
func parseScore(b []byte) (float64, bool) {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseInt64 parses a signed 64-bit decimal integer consuming the entire
// argument.
func parseInt64(b []byte) (int64, bool) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func cmdGet(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	value, kind, exists := d.KS.Get(string(args[1]))
	if !exists {
		return wire.Nil{}
	}
	if kind != keyspace.KindString {
		return errType(msgExpectString)
	}
	return wire.Str(value)
}

func cmdSet(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	if d.KS.Set(string(args[1]), string(args[2])) {
		return errType(msgExpectString)
	}
	return wire.Nil{}
}

func cmdDel(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	return boolInt(d.KS.Del(string(args[1]), now))
}

func cmdKeys(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	keys := d.KS.Keys()
	arr := make(wire.Arr, len(keys))
	for i, k := range keys {
		arr[i] = wire.Str(k)
	}
	return arr
}

func cmdExists(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	keys := make([]string, len(args)-1)
	for i := 1; i < len(args); i++ {
		keys[i-1] = string(args[i])
	}
	return wire.Int(d.KS.Exists(keys))
}

func cmdExpire(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	ttlMs, ok := parseInt64(args[2])
	if !ok {
		return errArg("bad ttl")
	}
	return boolInt(d.KS.Expire(string(args[1]), ttlMs, now))
}

func cmdPttl(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	return wire.Int(d.KS.Pttl(string(args[1]), now))
}

func cmdTTL(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	ms := d.KS.Pttl(string(args[1]), now)
	if ms < 0 {
		return wire.Int(ms)
	}
	return wire.Int(ms / 1000)
}

func cmdZAdd(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	score, ok := parseScore(args[2])
	if !ok {
		return errArg("bad score")
	}
	isNew, conflict := d.KS.ZAdd(string(args[1]), score, string(args[3]))
	if conflict {
		return errType(msgExpectZSet)
	}
	return boolInt(isNew)
}

func cmdZRem(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	removed, exists, conflict := d.KS.ZRem(string(args[1]), string(args[2]))
	if conflict {
		return errType(msgExpectZSet)
	}
	if !exists {
		return wire.Nil{}
	}
	return boolInt(removed)
}

func cmdZScore(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	score, found, exists, conflict := d.KS.ZScore(string(args[1]), string(args[2]))
	if conflict {
		return errType(msgExpectZSet)
	}
	if !exists || !found {
		return wire.Nil{}
	}
	return wire.Dbl(score)
}

func cmdZCard(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	n, exists, conflict := d.KS.ZCard(string(args[1]))
	if conflict {
		return errType(msgExpectZSet)
	}
	if !exists {
		return wire.Int(0)
	}
	return wire.Int(n)
}

func cmdZQuery(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	score, ok := parseScore(args[2])
	if !ok {
		return errArg("bad score")
	}
	offset, ok := parseInt64(args[4])
	if !ok {
		return errArg("bad offset")
	}
	limit, ok := parseInt64(args[5])
	if !ok {
		return errArg("bad limit")
	}
	members, conflict := d.KS.ZQuery(string(args[1]), score, string(args[3]), offset, limit)
	if conflict {
		return errType(msgExpectZSet)
	}
	arr := make(wire.Arr, 0, len(members)*2)
	for _, m := range members {
		arr = append(arr, wire.Str(m.Name), wire.Dbl(m.Score))
	}
	return arr
}

func cmdType(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	kind, ok := d.KS.Type(string(args[1]))
	if !ok {
		return wire.Nil{}
	}
	return wire.Str(kind.String())
}

func cmdFlushAll(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	d.KS.FlushAll()
	return wire.Str("OK")
}

func cmdDBSize(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	return wire.Int(d.KS.Len())
}

const commandHelp = `get set del keys exists expire pttl ttl zadd zrem zscore zcard zquery type flushall dbsize command shutdown`

func cmdCommand(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	return wire.Str(commandHelp)
}

func cmdShutdown(d *Dispatcher, now uint64, args [][]byte) wire.Value {
	d.ShutdownRequested = true
	return wire.Str("Server is shutting down...")
}
