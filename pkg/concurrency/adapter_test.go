package concurrency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptAndRegisterDeliversResultInSubmissionOrder(t *testing.T) {
	process := func(ctx context.Context, row map[string]any) (map[string]any, error) {
		n := row["n"].(int)
		// reverse completion order: larger n finishes faster.
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return map[string]any{"n": n}, nil
	}
	a := Connect(process, 4, 8, DefaultAIMDConfig())
	defer a.ShutdownBatchProcessing()

	var ordinals []int
	for i := 0; i < 4; i++ {
		ord, err := a.Accept(context.Background(), fmt.Sprintf("tok-%d", i), map[string]any{"n": i})
		require.NoError(t, err)
		ordinals = append(ordinals, ord)
	}

	for i, ord := range ordinals {
		waiter, ok := a.Register(ord)
		require.True(t, ok)
		res := <-waiter
		require.NoError(t, res.Err)
		assert.Equal(t, i, res.Row["n"])
	}
}

func TestEvictSubmissionDeliversTimeoutError(t *testing.T) {
	block := make(chan struct{})
	process := func(ctx context.Context, row map[string]any) (map[string]any, error) {
		<-block
		return row, nil
	}
	a := Connect(process, 1, 4, DefaultAIMDConfig())
	defer func() {
		close(block)
		a.ShutdownBatchProcessing()
	}()

	ord, err := a.Accept(context.Background(), "tok-1", map[string]any{})
	require.NoError(t, err)
	a.EvictSubmission(ord, "tok-1")

	waiter, ok := a.Register(ord)
	require.True(t, ok)
	res := <-waiter
	require.Error(t, res.Err)
	var toErr *TimeoutError
	assert.ErrorAs(t, res.Err, &toErr)
}

func TestCapacityErrorTripsBackoffThenRecovers(t *testing.T) {
	calls := 0
	process := func(ctx context.Context, row map[string]any) (map[string]any, error) {
		calls++
		if calls <= 2 {
			return nil, &CapacityError{Cause: fmt.Errorf("429")}
		}
		return row, nil
	}
	cfg := DefaultAIMDConfig()
	cfg.RecoveryStep = 1 * time.Millisecond
	a := Connect(process, 1, 4, cfg)
	defer a.ShutdownBatchProcessing()

	for i := 0; i < 3; i++ {
		ord, err := a.Accept(context.Background(), fmt.Sprintf("tok-%d", i), map[string]any{"n": i})
		require.NoError(t, err)
		waiter, ok := a.Register(ord)
		require.True(t, ok)
		<-waiter
	}

	a.delayMu.Lock()
	delay := a.delay
	a.delayMu.Unlock()
	assert.Greater(t, delay, time.Duration(0), "delay should have increased after capacity errors")
	assert.Less(t, delay, 200*time.Millisecond, "delay should have dropped by RecoveryStep after the success")
}
