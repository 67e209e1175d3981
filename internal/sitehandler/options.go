package sitehandler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keithlinneman/bucketedge/internal/inject"
	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/storage"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// Variant picks the serving behavior.
type Variant string

const (
	// VariantSimple resolves and serves objects with a plain 404 on miss.
	VariantSimple Variant = "simple"
	// VariantFramed adds the route table, HTML injection and a 404 document.
	VariantFramed Variant = "framed"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantSimple, VariantFramed:
		return v, nil
	case "":
		return VariantFramed, nil
	}
	return "", fmt.Errorf("%w: unknown variant %q", ErrInvalidOptions, s)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncSiteResponse(kind string)
	IncInjection(result string)
}

type Options struct {
	Logger  log.Logger
	Bucket  storage.Bucket
	Metrics Metrics

	Variant Variant // default: framed

	IndexDocument string // default: "index.html"

	// framed only
	NotFoundKey string          // default: "404.html"
	PinnedKeys  []string        // served at "/<key>" ahead of generic lookup
	Injector    inject.Injector // default: inject.Nop

	// CacheControl is sent on 200 responses. Empty omits the header;
	// 404 and 500 responses always carry no-store.
	CacheControl string

	// HTML objects larger than this are streamed without injection.
	MaxInjectBytes int64 // default: 16 MiB
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Variant == "" {
		o.Variant = VariantFramed
	}
	if o.IndexDocument == "" {
		o.IndexDocument = DefaultIndexDocument
	}
	if o.NotFoundKey == "" {
		o.NotFoundKey = "404.html"
	}
	if o.Injector == nil {
		o.Injector = inject.Nop
	}
	if o.MaxInjectBytes <= 0 {
		o.MaxInjectBytes = 16 << 20
	}
}

func (o *Options) validate() error {
	if o.Bucket == nil {
		return fmt.Errorf("%w: Bucket is nil", ErrInvalidOptions)
	}
	if _, err := ParseVariant(string(o.Variant)); err != nil {
		return err
	}
	if strings.HasPrefix(o.NotFoundKey, "/") {
		return fmt.Errorf("%w: NotFoundKey %q must not start with /", ErrInvalidOptions, o.NotFoundKey)
	}
	if strings.Contains(o.IndexDocument, "/") {
		return fmt.Errorf("%w: IndexDocument %q must be a bare name", ErrInvalidOptions, o.IndexDocument)
	}
	for _, k := range o.PinnedKeys {
		if k == "" || strings.HasPrefix(k, "/") {
			return fmt.Errorf("%w: pinned key %q must be non-empty and relative", ErrInvalidOptions, k)
		}
	}
	return nil
}
