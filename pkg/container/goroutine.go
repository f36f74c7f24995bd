package container

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the id of the calling goroutine, read from the header
// of its stack trace ("goroutine 42 [running]:"). Constructions are tracked
// per goroutine so a constructor that calls Resolve is recognized as the
// owner of the classes it is building.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		panic("container: cannot read goroutine id: " + err.Error())
	}
	return id
}
