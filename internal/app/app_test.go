package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) EnsureToken(context.Context) (string, error) {
	s.calls.Add(1)
	return "token", s.err
}

func TestRefreshTokens(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	src := &countingSource{err: errors.New("401 from gateway")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		refreshTokens(ctx, zap.New(core), src, 5*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, logs.FilterMessage("QPay token refresh failed").Len(), 3)
}

func TestRefreshTokens_Disabled(t *testing.T) {
	src := &countingSource{}
	refreshTokens(context.Background(), zap.NewNop(), src, 0)
	assert.Zero(t, src.calls.Load())
}
