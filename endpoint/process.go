package endpoint

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// BodyLimit caps the request body at n bytes. Reading past the cap fails, and
// Unmarshal reports it as 413. n <= 0 disables the cap.
func BodyLimit(n int64) Processor {
	return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next Next) error {
		if n > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, n)
		}
		return next(w, r)
	})
}

// Recover turns a panic in the rest of the chain into a 500 and logs it with
// its stack.
func Recover(l zerolog.Logger) Processor {
	return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next Next) (err error) {
		defer func() {
			if p := recover(); p != nil {
				l.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msgf("panic: %v", p)
				err = Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: panic: %v", p))
			}
		}()
		return next(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// AccessLog logs one line per request at info level, or at warn level when
// the chain fails.
func AccessLog(l zerolog.Logger) Processor {
	return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next Next) error {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		err := next(sw, r)

		ev := l.Info()
		status := sw.status
		if err != nil {
			ev = l.Warn().Err(err)
			status, _ = errorStatus(err)
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", sw.bytes).
			Dur("duration", time.Since(start)).
			Msg("request")
		return err
	})
}
