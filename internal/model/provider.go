package model

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// ArtifactSource returns a local path to the model artifact, fetching it
// first if needed.
type ArtifactSource interface {
	Ensure(ctx context.Context) (string, error)
	// Discard drops a copy the source fetched itself so the next Ensure
	// downloads it again. Files the source did not write are kept.
	Discard(path string) error
}

// Loader builds a classifier from a local artifact path.
type Loader func(ctx context.Context, modelPath string) (*Classifier, error)

// Provider owns the process-wide classifier. It loads the model on first
// use and hands out the same read-only classifier afterwards. A failed load
// is reported to the caller and attempted again only on the next call.
//
// Concurrent callers share one load. The load runs on the provider's own
// context, so a caller whose deadline expires stops waiting without
// aborting the load for everyone else.
type Provider struct {
	source ArtifactSource
	load   Loader

	base   context.Context
	cancel context.CancelFunc

	group  singleflight.Group
	loaded atomic.Pointer[Classifier]
}

func NewProvider(source ArtifactSource, load Loader) *Provider {
	base, cancel := context.WithCancel(context.Background())
	return &Provider{source: source, load: load, base: base, cancel: cancel}
}

// ONNXLoader adapts LoadONNX to a Loader, taking everything but the model
// path from cfg.
func ONNXLoader(cfg ONNXConfig) Loader {
	return func(_ context.Context, modelPath string) (*Classifier, error) {
		c := cfg
		c.ModelPath = modelPath
		return LoadONNX(c)
	}
}

// Classifier returns the loaded classifier, loading it if necessary. It
// returns as soon as ctx ends even if the load is still running.
func (p *Provider) Classifier(ctx context.Context) (*Classifier, error) {
	if c := p.loaded.Load(); c != nil {
		return c, nil
	}

	ch := p.group.DoChan("model", func() (any, error) {
		return p.loadOnce()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Classifier), nil
	case <-ctx.Done():
		return nil, domain.WrapError(domain.ErrModelUnavailable, "wait for model", ctx.Err())
	}
}

func (p *Provider) loadOnce() (*Classifier, error) {
	if c := p.loaded.Load(); c != nil {
		return c, nil
	}

	path, err := p.source.Ensure(p.base)
	if err != nil {
		slog.Error("model_artifact_unavailable", "error", err)
		return nil, domain.WrapError(domain.ErrModelUnavailable, "ensure artifact", err)
	}

	c, err := p.load(p.base, path)
	if err != nil {
		slog.Error("model_load_failed", "path", path, "error", err)
		if derr := p.source.Discard(path); derr != nil {
			slog.Warn("model_artifact_discard_failed", "path", path, "error", derr)
		}
		return nil, domain.WrapError(domain.ErrModelUnavailable, "load model", err)
	}
	p.loaded.Store(c)
	return c, nil
}

// Ready reports whether a classifier is loaded. It never blocks on a load
// in progress.
func (p *Provider) Ready() bool {
	return p.loaded.Load() != nil
}

// Current returns the loaded classifier without triggering a load.
func (p *Provider) Current() *Classifier {
	return p.loaded.Load()
}

// Close stops any load in progress and releases the loaded classifier.
func (p *Provider) Close() error {
	p.cancel()
	c := p.loaded.Swap(nil)
	if c == nil {
		return nil
	}
	return c.Close()
}
