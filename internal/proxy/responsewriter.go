package proxy

import "net/http"

// trackingWriter wraps http.ResponseWriter so the pipeline can enforce
// spec §4.H's "response-already-started" rule: once any response byte
// is written to the client, no further upstream attempt may be made.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (t *trackingWriter) WriteHeader(statusCode int) {
	t.started = true
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
