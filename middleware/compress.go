package middleware

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mnehpets/servicebox/endpoint"
)

type gzipResponseWriter struct {
	http.ResponseWriter
	level       int
	gz          *gzip.Writer
	wroteHeader bool
}

func (g *gzipResponseWriter) WriteHeader(status int) {
	if g.wroteHeader {
		return
	}
	g.wroteHeader = true
	h := g.Header()
	if status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified && h.Get("Content-Encoding") == "" {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		gz, err := gzip.NewWriterLevel(g.ResponseWriter, g.level)
		if err == nil {
			g.gz = gz
		} else {
			h.Del("Content-Encoding")
		}
	}
	g.ResponseWriter.WriteHeader(status)
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	if g.gz != nil {
		return g.gz.Write(b)
	}
	return g.ResponseWriter.Write(b)
}

func (g *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
		}
	}
	return false
}

// Compress is an endpoint.Processor that gzips responses for clients that
// accept it. level is a gzip level such as gzip.DefaultCompression.
func Compress(level int) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next endpoint.Next) error {
		w.Header().Add("Vary", "Accept-Encoding")
		if !acceptsGzip(r) {
			return next(w, r)
		}
		gw := &gzipResponseWriter{ResponseWriter: w, level: level}
		err := next(gw, r)
		if gw.gz != nil {
			if cerr := gw.gz.Close(); err == nil {
				err = cerr
			}
		}
		return err
	})
}
