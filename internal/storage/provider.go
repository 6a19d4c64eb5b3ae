// Package storage holds clip payloads and published copies on the local file system.
package storage

// Provider keeps the original bytes of each clip, keyed by clip id.
type Provider interface {
	Put(id int64, data []byte) error
	Get(id int64) ([]byte, error)
	// Remove deletes one payload. A missing payload yields an error wrapping fs.ErrNotExist.
	Remove(id int64) error
	// Purge drops every clip payload.
	Purge() error
}
