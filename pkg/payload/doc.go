// Package payload implements the content-addressed blob store backing
// row and call payloads: values are stored and retrieved by the
// SHA-256 hash of their canonical bytes, so storing the same payload
// twice is a no-op and every record in pkg/model can reference a
// payload by hash alone.
package payload
