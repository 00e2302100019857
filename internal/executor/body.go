package executor

import (
	"sync/atomic"
)

const bodyPattern = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// bodyBuffer holds generated request content shared by every runner. It is
// replaced wholesale and never written after publication.
var bodyBuffer atomic.Pointer[[]byte]

// SetMaxContentLength sizes the shared request body buffer to the largest
// request content size of the batch. Call it once, before replay starts.
func SetMaxContentLength(n int) {
	if n < 0 {
		n = 0
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = bodyPattern[i%len(bodyPattern)]
	}
	bodyBuffer.Store(&buf)
}

// MaxContentLength returns the size of the shared body buffer
func MaxContentLength() int {
	if p := bodyBuffer.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// generatedBody returns size bytes of generated content. Requests larger than
// the shared buffer get their own copy.
func generatedBody(size int) []byte {
	if size <= 0 {
		return nil
	}
	if p := bodyBuffer.Load(); p != nil && len(*p) >= size {
		return (*p)[:size]
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = bodyPattern[i%len(bodyPattern)]
	}
	return buf
}
