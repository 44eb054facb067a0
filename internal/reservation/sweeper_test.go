package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-ordering/internal/logger"
)

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func TestSweeper_SweepOnceUsesTTLCutoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, now.Add(-15*time.Minute)).Return(3, nil)

	s := NewSweeper(expirer, 15*time.Minute, time.Minute, logger.NewNop())
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	expirer.AssertExpectations(t)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	swept := make(chan struct{}, 1)
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, mock.Anything).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	s := NewSweeper(expirer, time.Minute, 5*time.Millisecond, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_DisabledWithoutTTL(t *testing.T) {
	expirer := new(MockExpirer)
	s := NewSweeper(expirer, 0, time.Millisecond, logger.NewNop())

	s.Run(context.Background())

	expirer.AssertNotCalled(t, "ExpireStale", mock.Anything, mock.Anything)
}
