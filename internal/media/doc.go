// Package media turns queued attachment sources into embeddable reply
// items. The platform expects inline base64 payloads with an MD5 checksum
// and enforces a size cap, so oversized sources fail preparation rather
// than being silently truncated.
package media
