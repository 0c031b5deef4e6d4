package tee

import (
	"bytes"
	"net/http"
	"time"
)

// Recorder is a wrapper around http.ResponseWriter that remembers what was written.
// Everything is passed through to the underlying http.ResponseWriter;
// bodies of responses with a status of at least captureFrom are also kept in a buffer.
type Recorder struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	captureFrom  int
	status       int
	written      int
	wroteHeaders bool
	CreatedAt    time.Time
}

// NewRecorder returns a Recorder writing to w.
// The body is saved, and available from Body, when the status is captureFrom or above.
// A captureFrom of 0 disables capturing.
func NewRecorder(w http.ResponseWriter, captureFrom int) *Recorder {
	return &Recorder{
		rw:          w,
		captureFrom: captureFrom,
		CreatedAt:   time.Now(),
	}
}

// Implementation of http.ResponseWriter
func (r *Recorder) Header() http.Header {
	return r.rw.Header()
}

// Implementation of http.ResponseWriter
func (r *Recorder) WriteHeader(statusCode int) {
	// only the first status counts, like in net/http
	if r.wroteHeaders {
		return
	}
	r.wroteHeaders = true
	r.status = statusCode
	if r.captureFrom > 0 && statusCode >= r.captureFrom {
		r.b = &bytes.Buffer{}
	}
	r.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (r *Recorder) Write(b []byte) (int, error) {
	if !r.wroteHeaders {
		r.WriteHeader(http.StatusOK)
	}
	if r.b != nil {
		r.b.Write(b)
	}
	n, err := r.rw.Write(b)
	r.written += n
	return n, err
}

// StatusCode returns the status code of the response, 200 if none was written explicitly.
func (r *Recorder) StatusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// BytesWritten returns the number of body bytes passed through.
func (r *Recorder) BytesWritten() int {
	return r.written
}

// Body returns the captured body, or nil if the response was not captured.
func (r *Recorder) Body() []byte {
	if r.b == nil {
		return nil
	}
	return r.b.Bytes()
}

// Elapsed returns the time since the recorder was created.
func (r *Recorder) Elapsed() time.Duration {
	return time.Since(r.CreatedAt)
}
