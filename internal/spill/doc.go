/*
Package spill moves cache payloads out of memory and back.

A Codec turns a types.Payload into a self-describing byte slice and back,
optionally compressing the body with zstd and always guarding it with an
xxhash64 checksum. A Store persists those bytes: FileStore writes one file per
entry into a directory, S3Store writes one object per entry under a bucket
prefix. WithRetry wraps a store so failed requests are repeated with
backoff; S3 stores are paired with IsTransient to skip final errors.

Spill objects are scratch data for the running process. The format carries a
version byte but no compatibility is promised across releases.
*/
package spill
