package errcode

import (
	"fmt"
)

type DiskErr int

// A missing (pruned) data file is deliberately NOT in this list; the disk
// layer reports it as an empty result, not an error.
const (
	ErrorOutOfDiskSpace DiskErr = DiskErrorBase + iota
	ErrorStorageCorruption
	ErrorUndoChecksumMismatch
	ErrorOpenFileFailed
	ErrorNotFullBlock
	ErrorFailedToWriteBlockIndexDatabase
)

var diskErrString = map[DiskErr]string{
	ErrorOutOfDiskSpace:                  "ErrorOutOfDiskSpace",
	ErrorStorageCorruption:               "ErrorStorageCorruption",
	ErrorUndoChecksumMismatch:            "ErrorUndoChecksumMismatch",
	ErrorOpenFileFailed:                  "ErrorOpenFileFailed",
	ErrorNotFullBlock:                    "ErrorNotFullBlock",
	ErrorFailedToWriteBlockIndexDatabase: "ErrorFailedToWriteBlockIndexDatabase",
}

func (de DiskErr) String() string {
	if s, ok := diskErrString[de]; ok {
		return s
	}
	return fmt.Sprintf("Unknown code (%d)", de)
}
