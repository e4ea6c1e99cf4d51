package storage

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the current goroutine's numeric id from its stack
// trace header. Go intentionally has no public goroutine-local-storage
// API; this is the standard workaround (the same trick several ORMs and
// connection-pool libraries use to fake thread-locals) and is the only way
// to give ReentrantLock the "same thread may re-enter" semantics §4.3.2 and
// §9 ask for without threading an owner token through every call site.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}
