// Package diag takes inventories of the bucket for the admin listener.
//
// An inventory lists every object and probes a set of watched keys (the
// not-found document and the pinned pages by default). It never runs in
// the serving path and runs at most once per configured interval; callers
// in between get the cached report.
package diag
