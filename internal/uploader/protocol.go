// Package uploader publishes clip payloads to configured servers through
// pluggable protocols.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/models"
)

// Uploader sends one payload to a server and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Protocol knows how to talk to one kind of server.
type Protocol interface {
	Name() string
	// Validate checks server settings without connecting anywhere.
	Validate(settings map[string]string) error
	NewUploader(ctx context.Context, server models.Server) (Uploader, error)
}

// Registry maps protocol names to implementations. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
}

// NewRegistry returns a registry holding protos.
func NewRegistry(protos ...Protocol) *Registry {
	r := &Registry{protocols: make(map[string]Protocol, len(protos))}
	for _, p := range protos {
		r.protocols[p.Name()] = p
	}
	return r
}

// DefaultRegistry holds the built-in local and s3 protocols.
func DefaultRegistry() *Registry {
	return NewRegistry(LocalProtocol{}, S3Protocol{})
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Protocol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.protocols[p.Name()]; ok {
		return fmt.Errorf("uploader: protocol %q: %w", p.Name(), apperr.ErrAlreadyExists)
	}
	r.protocols[p.Name()] = p
	return nil
}

// Find returns the protocol registered under name.
func (r *Registry) Find(name string) (Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[name]
	if !ok {
		return nil, fmt.Errorf("uploader: protocol %q: %w", name, apperr.ErrNotFound)
	}
	return p, nil
}

// Protocols lists registered names in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.protocols))
	for n := range r.protocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// absURL accepts an empty string or an absolute http(s) URL.
var absURL = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
})
