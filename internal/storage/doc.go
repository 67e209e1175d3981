// Package storage is the object storage contract the site handler reads from
// and its backends.
//
//   - [S3Bucket]: AWS S3 and S3-compatible stores such as Cloudflare R2
//   - [FSBucket]: any fs.FS, used for local directories and tests
//   - [Instrument]: wraps a Bucket with tracing spans and operation metrics
//
// A miss is always reported as [ErrNotFound], never as a nil object.
package storage
