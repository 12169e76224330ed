package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// Pool lends each forward pass an exclusive Scorer. onnxruntime sessions
// bind their input and output tensors, so one session serves one call at a time.
type Pool struct {
	members        []Scorer
	idle           chan Scorer
	acquireTimeout time.Duration
}

// NewPool builds a pool over members. acquireTimeout bounds how long a call
// waits for a free member; zero waits until the context ends.
func NewPool(members []Scorer, acquireTimeout time.Duration) (*Pool, error) {
	if len(members) == 0 {
		return nil, errors.New("pool needs at least one scorer")
	}
	idle := make(chan Scorer, len(members))
	for _, m := range members {
		idle <- m
	}
	return &Pool{members: members, idle: idle, acquireTimeout: acquireTimeout}, nil
}

func (p *Pool) Size() int {
	return len(p.members)
}

func (p *Pool) Scores(ctx context.Context, input []float32) ([]float32, error) {
	m, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { p.idle <- m }()
	return m.Scores(ctx, input)
}

func (p *Pool) acquire(ctx context.Context) (Scorer, error) {
	select {
	case m := <-p.idle:
		return m, nil
	default:
	}

	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case m := <-p.idle:
		return m, nil
	case <-timeout:
		return nil, domain.WrapError(domain.ErrOverloaded, "acquire session",
			fmt.Errorf("no free session after %s", p.acquireTimeout))
	case <-ctx.Done():
		return nil, domain.WrapError(domain.ErrOverloaded, "acquire session", ctx.Err())
	}
}

// Close closes every member that holds native resources.
func (p *Pool) Close() error {
	var errs []error
	for _, m := range p.members {
		if closer, ok := m.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
