package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// blockingScorer holds its slot until release is closed.
type blockingScorer struct {
	started chan struct{}
	release chan struct{}
	closed  bool
}

func (s *blockingScorer) Scores(context.Context, []float32) ([]float32, error) {
	s.started <- struct{}{}
	<-s.release
	return []float32{1, 0, 0, 0}, nil
}

func (s *blockingScorer) Close() error {
	s.closed = true
	return nil
}

func TestNewPoolRequiresMembers(t *testing.T) {
	_, err := NewPool(nil, time.Second)
	require.Error(t, err)
}

func TestPoolReturnsOverloadedWhenSaturated(t *testing.T) {
	member := &blockingScorer{started: make(chan struct{}, 1), release: make(chan struct{})}
	pool, err := NewPool([]Scorer{member}, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Size())

	done := make(chan error, 1)
	go func() {
		_, err := pool.Scores(context.Background(), nil)
		done <- err
	}()
	<-member.started

	_, err = pool.Scores(context.Background(), nil)
	require.True(t, domain.IsKind(err, domain.ErrOverloaded))

	close(member.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first call")
	}

	member.release = make(chan struct{})
	close(member.release)
	scores, err := pool.Scores(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, scores, NumLabels)
}

func TestPoolHonorsContext(t *testing.T) {
	member := &blockingScorer{started: make(chan struct{}, 1), release: make(chan struct{})}
	pool, err := NewPool([]Scorer{member}, 0)
	require.NoError(t, err)

	go func() { _, _ = pool.Scores(context.Background(), nil) }()
	<-member.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Scores(ctx, nil)
	require.True(t, domain.IsKind(err, domain.ErrOverloaded))
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	close(member.release)
}

func TestPoolCloseClosesMembers(t *testing.T) {
	a := &blockingScorer{}
	b := &blockingScorer{}
	pool, err := NewPool([]Scorer{a, b, meanScorer{}}, 0)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.True(t, a.closed)
	require.True(t, b.closed)
}
