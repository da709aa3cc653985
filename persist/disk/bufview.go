package disk

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// mapping is a single mmap of a data file. The file table holds one
// reference and every BufView holds one; the memory is unmapped when the
// last reference is released.
type mapping struct {
	data []byte
	refs int32
}

func newMapping(data []byte) *mapping {
	return &mapping{data: data, refs: 1}
}

func (m *mapping) acquire() {
	atomic.AddInt32(&m.refs, 1)
}

func (m *mapping) release() {
	if atomic.AddInt32(&m.refs, -1) == 0 {
		unix.Munmap(m.data)
	}
}

// view returns a BufView over a slice of this mapping. The view pins the
// mapping, so the bytes stay valid even after the file table drops the
// mapping on a resize.
func (m *mapping) view(data []byte) *BufView {
	m.acquire()
	v := &BufView{m: m, data: data}
	runtime.SetFinalizer(v, (*BufView).Close)
	return v
}

// BufView is a read-only window into a mapped data file.
type BufView struct {
	m      *mapping
	data   []byte
	closed int32
}

// Bytes exposes the viewed range. Callers must not modify it.
func (v *BufView) Bytes() []byte {
	return v.data
}

func (v *BufView) Size() int {
	return len(v.data)
}

// Close releases the view's hold on the underlying mapping. Using Bytes
// after Close is invalid. Views that are never closed are released by the
// garbage collector.
func (v *BufView) Close() {
	if atomic.CompareAndSwapInt32(&v.closed, 0, 1) {
		runtime.SetFinalizer(v, nil)
		v.m.release()
		v.data = nil
	}
}
