package blobstore

import (
	"context"
	"io"
	"sync"
)

// Gate is a Store that forwards to a backend once one has been installed with
// Ready. Until then every operation fails with ErrNotReady.
type Gate struct {
	mu    sync.RWMutex
	store Store
}

func NewGate() *Gate {
	return &Gate{}
}

// Ready installs the backend. Later calls replace it.
func (g *Gate) Ready(s Store) {
	g.mu.Lock()
	g.store = s
	g.mu.Unlock()
}

func (g *Gate) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store != nil
}

func (g *Gate) backend() (Store, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.store == nil {
		return nil, ErrNotReady
	}
	return g.store, nil
}

func (g *Gate) Put(ctx context.Context, fileName, contentType string, content io.Reader) (Metadata, error) {
	s, err := g.backend()
	if err != nil {
		return Metadata{}, err
	}
	return s.Put(ctx, fileName, contentType, content)
}

func (g *Gate) Get(ctx context.Context, id string) (io.ReadCloser, Metadata, error) {
	s, err := g.backend()
	if err != nil {
		return nil, Metadata{}, err
	}
	return s.Get(ctx, id)
}

func (g *Gate) Stat(ctx context.Context, id string) (Metadata, error) {
	s, err := g.backend()
	if err != nil {
		return Metadata{}, err
	}
	return s.Stat(ctx, id)
}

func (g *Gate) Delete(ctx context.Context, id string) error {
	s, err := g.backend()
	if err != nil {
		return err
	}
	return s.Delete(ctx, id)
}
