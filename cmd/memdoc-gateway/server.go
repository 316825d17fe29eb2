package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pior/memdoc"
)

// maxDocumentSize bounds PUT bodies; larger documents are rejected with 413.
const maxDocumentSize = 20 << 20

// store is the part of *memdoc.Cluster the gateway serves.
type store interface {
	memdoc.Querier
	Ping(ctx context.Context) error
}

// newServer wires the document routes, a health check and the metrics handler.
func newServer(s store, metrics http.Handler, logger *slog.Logger) http.Handler {
	h := &handler{store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Get("/docs/{key}", h.get)
	r.Put("/docs/{key}", h.put)
	r.Delete("/docs/{key}", h.remove)

	return r
}

type handler struct {
	store  store
	logger *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType(doc.Format))
	w.Header().Set("ETag", etag(doc.Version))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Value)
}

// put stores the body. If-Match makes it conditional on the current version,
// If-None-Match: * makes it an insert.
func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	opts := []memdoc.Option{memdoc.WithFormat(formatOf(r.Header.Get("Content-Type")))}
	if ttl := r.Header.Get("X-Expiry-Seconds"); ttl != "" {
		secs, err := strconv.Atoi(ttl)
		if err != nil || secs < 0 {
			http.Error(w, "invalid X-Expiry-Seconds", http.StatusBadRequest)
			return
		}
		opts = append(opts, memdoc.WithExpiry(time.Duration(secs)*time.Second))
	}

	var version uint64
	switch {
	case r.Header.Get("If-None-Match") == "*":
		version, err = h.store.Insert(r.Context(), key, value, opts...)
		if err == nil {
			w.Header().Set("ETag", etag(version))
			w.WriteHeader(http.StatusCreated)
			return
		}

	case r.Header.Get("If-Match") != "":
		expected, perr := parseETag(r.Header.Get("If-Match"))
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		version, err = h.store.Upsert(r.Context(), key, value, append(opts, memdoc.WithExpectedVersion(expected))...)

	default:
		version, err = h.store.Upsert(r.Context(), key, value, opts...)
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(version))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	var opts []memdoc.Option
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		expected, err := parseETag(ifMatch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts = append(opts, memdoc.WithExpectedVersion(expected))
	}

	if err := h.store.Remove(r.Context(), chi.URLParam(r, "key"), opts...); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, memdoc.ErrVersionConflict), errors.Is(err, memdoc.ErrDocumentExists):
		return http.StatusPreconditionFailed
	case errors.Is(err, memdoc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, memdoc.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, memdoc.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, memdoc.ErrTopologyUnstable), errors.Is(err, memdoc.ErrClusterClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func etag(version uint64) string {
	return `"` + strconv.FormatUint(version, 10) + `"`
}

func parseETag(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	v, err := strconv.ParseUint(strings.Trim(s, `"`), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid entity tag %q", s)
	}
	return v, nil
}

func formatOf(contentType string) memdoc.Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return memdoc.FormatBinary
	}
	switch {
	case mediaType == "application/json":
		return memdoc.FormatJSON
	case strings.HasPrefix(mediaType, "text/"):
		return memdoc.FormatString
	default:
		return memdoc.FormatBinary
	}
}

func contentType(f memdoc.Format) string {
	switch f {
	case memdoc.FormatJSON:
		return "application/json"
	case memdoc.FormatString:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
