package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

type fakeSource struct {
	path string
	err  error

	// release, when set, holds Ensure until it is closed.
	release chan struct{}

	mu        sync.Mutex
	calls     int
	discarded []string
	ctxErr    error
}

func (s *fakeSource) Ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.ctxErr = ctx.Err()
	s.mu.Unlock()
	return s.path, s.err
}

func (s *fakeSource) Discard(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, path)
	return nil
}

type countingLoader struct {
	mu    sync.Mutex
	calls int
	paths []string
	err   error
	c     *Classifier
}

func (l *countingLoader) load(_ context.Context, path string) (*Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.paths = append(l.paths, path)
	if l.err != nil {
		return nil, l.err
	}
	return l.c, nil
}

func TestProviderReportsUnavailableWhenFetchFails(t *testing.T) {
	source := &fakeSource{err: errors.New("dial tcp: no such host")}
	loader := &countingLoader{c: NewClassifier(&fixedScorer{scores: []float32{1, 0, 0, 0}}, "")}
	p := NewProvider(source, loader.load)

	c, err := p.Classifier(context.Background())
	require.Nil(t, c)
	require.True(t, domain.IsKind(err, domain.ErrModelUnavailable))
	require.Zero(t, loader.calls)
	require.False(t, p.Ready())
}

func TestProviderReportsUnavailableWhenLoadFails(t *testing.T) {
	source := &fakeSource{path: "models/model_certan.onnx"}
	loader := &countingLoader{err: domain.WrapError(domain.ErrLabelMapping, "validate", errors.New("order"))}
	p := NewProvider(source, loader.load)

	_, err := p.Classifier(context.Background())
	require.True(t, domain.IsKind(err, domain.ErrModelUnavailable))
	require.True(t, domain.IsKind(err, domain.ErrLabelMapping))

	_, err = p.Classifier(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, loader.calls)
	require.Equal(t, 2, source.calls)
	require.Equal(t, []string{"models/model_certan.onnx", "models/model_certan.onnx"}, source.discarded)
}

func TestProviderKeepsArtifactAfterSuccessfulLoad(t *testing.T) {
	source := &fakeSource{path: "models/model_certan.onnx"}
	loader := &countingLoader{c: NewClassifier(&fixedScorer{scores: []float32{1, 0, 0, 0}}, "")}
	p := NewProvider(source, loader.load)

	_, err := p.Classifier(context.Background())
	require.NoError(t, err)
	require.Empty(t, source.discarded)
}

func TestProviderWaiterHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{path: "models/model_certan.onnx", release: release}
	loader := &countingLoader{c: NewClassifier(&fixedScorer{scores: []float32{0, 0, 1, 0}}, "v1")}
	p := NewProvider(source, loader.load)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	c, err := p.Classifier(ctx)
	elapsed := time.Since(start)

	require.Nil(t, c)
	require.True(t, domain.IsKind(err, domain.ErrModelUnavailable))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, elapsed, time.Second)
	require.False(t, p.Ready())
}

func TestProviderLoadSurvivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{path: "models/model_certan.onnx", release: release}
	loader := &countingLoader{c: NewClassifier(&fixedScorer{scores: []float32{0, 0, 0, 1}}, "v1")}
	p := NewProvider(source, loader.load)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Classifier(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Eventually(t, p.Ready, time.Second, 5*time.Millisecond)

	c, err := p.Classifier(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1", c.LabelsVersion())
	require.Equal(t, p.Current(), c)
	require.Equal(t, 1, loader.calls)
	require.Equal(t, 1, source.calls)
	require.NoError(t, source.ctxErr)
}

func TestProviderLoadsOnce(t *testing.T) {
	source := &fakeSource{path: "models/model_certan.onnx"}
	scorer := &fixedScorer{scores: []float32{0, 1, 0, 0}}
	loader := &countingLoader{c: NewClassifier(scorer, "v2")}
	p := NewProvider(source, loader.load)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Classifier(context.Background())
		}()
	}
	wg.Wait()

	c, err := p.Classifier(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v2", c.LabelsVersion())
	require.True(t, p.Ready())
	require.Equal(t, 1, loader.calls)
	require.Equal(t, []string{"models/model_certan.onnx"}, loader.paths)

	require.NoError(t, p.Close())
	require.False(t, p.Ready())
	require.Nil(t, p.Current())
}
