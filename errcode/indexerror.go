package errcode

import (
	"fmt"
)

type IndexErr int

const (
	ErrorIndexInconsistency IndexErr = IndexErrorBase + iota
	ErrorIndexRowDecodeFailed
)

var indexErrString = map[IndexErr]string{
	ErrorIndexInconsistency:   "ErrorIndexInconsistency",
	ErrorIndexRowDecodeFailed: "ErrorIndexRowDecodeFailed",
}

func (ie IndexErr) String() string {
	if s, ok := indexErrString[ie]; ok {
		return s
	}
	return fmt.Sprintf("Unknown code (%d)", ie)
}
