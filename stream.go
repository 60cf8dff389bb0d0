package rescache

import (
	"bufio"
	"io"
	"net"
	"net/http"
)

// bufferingResponseWriter is a write-through shim installed in place of
// the downstream handler's http.ResponseWriter. All writes pass through
// to the original writer in arrival order, unmodified; a side buffer
// accumulates a copy up to maximumCachedBodySize. On overflow, buffering
// is permanently disabled for the request and previously buffered bytes
// are discarded — forwarding is never dropped, reordered, or delayed by
// buffering.
//
// Mirrors a read-side buffering reader onto the write side, since this
// observes an outgoing response rather than an incoming one.
type bufferingResponseWriter struct {
	http.ResponseWriter

	maximumCachedBodySize int64

	buf              []byte
	bufferingEnabled bool

	statusCode      int
	headerWritten   bool
	onResponseStart func()
}

func newBufferingResponseWriter(w http.ResponseWriter, maxBody int64, onResponseStart func()) *bufferingResponseWriter {
	return &bufferingResponseWriter{
		ResponseWriter:        w,
		maximumCachedBodySize: maxBody,
		bufferingEnabled:      true,
		onResponseStart:       onResponseStart,
	}
}

// WriteHeader fires the response-start hook exactly once, then forwards.
func (s *bufferingResponseWriter) WriteHeader(statusCode int) {
	if !s.headerWritten {
		s.headerWritten = true
		s.statusCode = statusCode
		if s.onResponseStart != nil {
			s.onResponseStart()
		}
	}
	s.ResponseWriter.WriteHeader(statusCode)
}

// Write forwards unconditionally and mirrors into the side buffer while
// buffering remains enabled.
func (s *bufferingResponseWriter) Write(p []byte) (int, error) {
	if !s.headerWritten {
		s.WriteHeader(http.StatusOK)
	}

	if s.bufferingEnabled {
		if int64(len(s.buf)+len(p)) > s.maximumCachedBodySize {
			s.DisableBuffering()
		} else {
			s.buf = append(s.buf, p...)
		}
	}

	return s.ResponseWriter.Write(p)
}

// DisableBuffering has the same effect as overflow: buffering is
// permanently disabled and any bytes buffered so far are discarded.
// Forwarding through Write is unaffected.
func (s *bufferingResponseWriter) DisableBuffering() {
	s.bufferingEnabled = false
	s.buf = nil
}

func (s *bufferingResponseWriter) BufferingEnabled() bool {
	return s.bufferingEnabled
}

func (s *bufferingResponseWriter) BufferedLength() int64 {
	return int64(len(s.buf))
}

// Snapshot returns a copy of the buffered prefix.
func (s *bufferingResponseWriter) Snapshot() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// Flush implements http.Flusher passthrough when the underlying writer
// supports it.
func (s *bufferingResponseWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack disables buffering: a hijacked connection bypasses this shim
// entirely and nothing further can be observed, let alone cached.
func (s *bufferingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.DisableBuffering()
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// ReadFrom implements io.ReaderFrom. Per §9's send-file note, a
// zero-copy send-file path is routed through the ordinary buffering
// Write rather than passed to the underlying writer's own ReaderFrom:
// this preserves caching at the cost of the zero-copy optimization,
// which is the policy this implementation documents and chooses.
func (s *bufferingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(writerFunc(s.Write), r)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
