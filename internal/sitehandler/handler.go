package sitehandler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/keithlinneman/bucketedge/internal/inject"
	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/mimetype"
	"github.com/keithlinneman/bucketedge/internal/storage"
)

const (
	textPlain = "text/plain;charset=UTF-8"

	msgRootNotFound = "page not found"
	msgNotFound     = "requested resource not found"
	msgServerError  = "server error: "
)

// Handler serves bucket objects over HTTP.
type Handler struct {
	opts   Options
	routes Routes
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	h := &Handler{opts: opts}
	if opts.Variant == VariantFramed {
		h.routes = FramedRoutes(opts.NotFoundKey, opts.PinnedKeys)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, h.opts.Logger)
	L.Debug(ctx, "site request", "path", r.URL.Path, "method", r.Method)

	if rt, ok := h.routes.Match(r.URL.Path); ok {
		L.Debug(ctx, "route intercepted", "route", rt.Kind.String(), "key", rt.Key)
		switch rt.Kind {
		case KindNotFoundPage:
			h.serveNotFoundPage(w, r, L, rt)
			return
		case KindPinned:
			if h.servePinned(w, r, L, rt) {
				return
			}
		}
	}

	key := resolveKey(r.URL.Path, h.opts.IndexDocument)
	obj, err := h.opts.Bucket.Get(ctx, key)
	if storage.IsNotFound(err) {
		L.Info(ctx, "object not found", "key", key)
		h.serveMiss(w, r, L, key)
		return
	}
	if err != nil {
		h.serveError(w, r, L, key, err)
		return
	}
	defer obj.Body.Close()

	ct := mimetype.ForKey(key)
	inj := inject.Injector(nil)
	switch {
	case h.opts.Variant == VariantSimple:
		// simple sites get text/html and text/plain without a charset
		ct = mimetype.Bare(ct)
	case mimetype.IsHTML(ct):
		inj = h.opts.Injector
	}
	h.serveObject(w, r, L, obj, http.StatusOK, ct, inj, "object")
}

// servePinned reports false when the caller should fall through to generic
// lookup.
func (h *Handler) servePinned(w http.ResponseWriter, r *http.Request, L log.Logger, rt Route) bool {
	ctx := r.Context()
	obj, err := h.opts.Bucket.Get(ctx, rt.Key)
	switch {
	case storage.IsNotFound(err):
		L.Warn(ctx, "pinned object missing, falling through", "route", rt.Kind.String(), "key", rt.Key)
		return false
	case err != nil:
		L.Warn(ctx, "pinned object unreadable, falling through", "route", rt.Kind.String(), "key", rt.Key, "error", err)
		return false
	}
	defer obj.Body.Close()

	h.serveObject(w, r, L, obj, http.StatusOK, mimetype.HTML, h.opts.Injector, "pinned")
	return true
}

func (h *Handler) serveNotFoundPage(w http.ResponseWriter, r *http.Request, L log.Logger, rt Route) {
	ctx := r.Context()
	obj, err := h.opts.Bucket.Get(ctx, rt.Key)
	if err != nil {
		if !storage.IsNotFound(err) {
			L.Warn(ctx, "not-found document unreadable", "route", rt.Kind.String(), "key", rt.Key, "error", err)
		}
		h.writeText(w, http.StatusNotFound, msgRootNotFound, "root_plain")
		return
	}
	defer obj.Body.Close()
	h.serveObject(w, r, L, obj, http.StatusNotFound, mimetype.HTML, nil, "root_page")
}

func (h *Handler) serveMiss(w http.ResponseWriter, r *http.Request, L log.Logger, key string) {
	if h.opts.Variant == VariantSimple {
		h.writeText(w, http.StatusNotFound, msgNotFound, "miss_plain")
		return
	}

	ctx := r.Context()
	obj, err := h.opts.Bucket.Get(ctx, h.opts.NotFoundKey)
	if err != nil {
		L.Warn(ctx, "fallback document unavailable", "key", h.opts.NotFoundKey, "missing", key, "error", err)
		h.writeText(w, http.StatusNotFound, msgNotFound+": "+key, "miss_plain")
		return
	}
	defer obj.Body.Close()
	h.serveObject(w, r, L, obj, http.StatusNotFound, mimetype.HTML, nil, "miss_page")
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, L log.Logger, key string, err error) {
	L.Error(r.Context(), err, "serve object", "key", key)
	h.writeText(w, http.StatusInternalServerError, msgServerError+err.Error(), "error")
}

// serveObject writes obj with status. With a non-nil inj the body is read in
// full and rewritten, unless it exceeds MaxInjectBytes in which case it is
// streamed as stored. A body that fails before the first byte becomes a 500.
func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, L log.Logger, obj *storage.Object, status int, ct string, inj inject.Injector, kind string) {
	ctx := r.Context()

	if inj != nil {
		doc, complete, err := readLimited(obj.Body, h.opts.MaxInjectBytes)
		if err != nil {
			h.serveError(w, r, L, obj.Key, err)
			return
		}
		if complete {
			out := inj.Inject(string(doc))
			h.incInjection("injected")
			h.writeHeaders(w, status, ct, int64(len(out)), kind)
			_, _ = io.WriteString(w, out)
			return
		}
		h.incInjection("too_large")
		L.Warn(ctx, "html too large to inject, streaming as stored",
			"key", obj.Key, "limit_bytes", h.opts.MaxInjectBytes)
		h.writeHeaders(w, status, ct, obj.Size, kind)
		h.copyBody(ctx, w, L, obj.Key, io.MultiReader(bytes.NewReader(doc), obj.Body))
		return
	}

	br := bufio.NewReaderSize(obj.Body, 32<<10)
	if _, err := br.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		h.serveError(w, r, L, obj.Key, err)
		return
	}
	h.writeHeaders(w, status, ct, obj.Size, kind)
	h.copyBody(ctx, w, L, obj.Key, br)
}

func (h *Handler) writeHeaders(w http.ResponseWriter, status int, ct string, size int64, kind string) {
	hdr := w.Header()
	hdr.Set("Content-Type", ct)
	if cc := cacheControlFor(status, &h.opts); cc != "" {
		hdr.Set("Cache-Control", cc)
	}
	if size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(status)
	h.incResponse(kind)
}

func (h *Handler) writeText(w http.ResponseWriter, status int, msg, kind string) {
	h.writeHeaders(w, status, textPlain, int64(len(msg)), kind)
	_, _ = io.WriteString(w, msg)
}

// headers are gone by now, so a failed copy can only be logged
func (h *Handler) copyBody(ctx context.Context, w io.Writer, L log.Logger, key string, body io.Reader) {
	if _, err := io.Copy(w, body); err != nil {
		L.Warn(ctx, "response body copy failed", "key", key, "error", err)
	}
}

func (h *Handler) incResponse(kind string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.IncSiteResponse(kind)
	}
}

func (h *Handler) incInjection(result string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.IncInjection(result)
	}
}
