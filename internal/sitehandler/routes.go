package sitehandler

// RouteKind selects how an intercepted path is served.
type RouteKind int

const (
	// KindNotFoundPage always answers 404 with the not-found document.
	KindNotFoundPage RouteKind = iota + 1
	// KindPinned serves a fixed key as injected HTML, falling through to
	// generic lookup when the key is missing or unreadable.
	KindPinned
)

func (k RouteKind) String() string {
	switch k {
	case KindNotFoundPage:
		return "not_found_page"
	case KindPinned:
		return "pinned"
	}
	return "unknown"
}

// Route is an exact-match interception checked before generic resolution.
type Route struct {
	Path string
	Key  string
	Kind RouteKind
}

// Routes is an ordered table; the first exact match wins.
type Routes []Route

func (rs Routes) Match(urlPath string) (Route, bool) {
	for _, rt := range rs {
		if rt.Path == urlPath {
			return rt, true
		}
	}
	return Route{}, false
}

// FramedRoutes intercepts the site root with the not-found document and
// serves each pinned key at "/<key>".
func FramedRoutes(notFoundKey string, pinned []string) Routes {
	rs := Routes{
		{Path: "/", Key: notFoundKey, Kind: KindNotFoundPage},
		{Path: "", Key: notFoundKey, Kind: KindNotFoundPage},
	}
	for _, k := range pinned {
		if k == "" {
			continue
		}
		rs = append(rs, Route{Path: "/" + k, Key: k, Kind: KindPinned})
	}
	return rs
}
