package protocol

import (
	"io"
	"os"
)

// StreamLength reports the length of an upload stream, or -1 when unknown.
// A nil stream has length 0.
func StreamLength(r io.Reader) int64 {
	switch s := r.(type) {
	case nil:
		return 0
	case interface{ Len() int }:
		return int64(s.Len())
	case interface{ Size() int64 }:
		return s.Size()
	case *os.File:
		fi, err := s.Stat()
		if err != nil {
			return -1
		}
		return fi.Size()
	}
	return -1
}
