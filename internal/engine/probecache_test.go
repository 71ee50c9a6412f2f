package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) SupportsFilter(ctx context.Context, name string) bool {
	return m.Called(ctx, name).Bool(0)
}

func (m *mockEngine) Run(ctx context.Context, args []string) error {
	return m.Called(ctx, args).Error(0)
}

func TestWithProbeCache_DisabledReturnsEngine(t *testing.T) {
	e := &mockEngine{}
	assert.Same(t, e, WithProbeCache(e, 0))
}

func TestCachedProber_ReusesAnswerUntilExpiry(t *testing.T) {
	e := &mockEngine{}
	e.On("SupportsFilter", mock.Anything, "delogo").Return(true).Twice()

	cached := WithProbeCache(e, time.Minute).(*CachedProber)
	now := time.Now()
	cached.now = func() time.Time { return now }

	ctx := context.Background()
	assert.True(t, cached.SupportsFilter(ctx, "delogo"))
	assert.True(t, cached.SupportsFilter(ctx, "delogo"))
	e.AssertNumberOfCalls(t, "SupportsFilter", 1)

	now = now.Add(2 * time.Minute)
	assert.True(t, cached.SupportsFilter(ctx, "delogo"))
	e.AssertNumberOfCalls(t, "SupportsFilter", 2)
}

func TestCachedProber_CachesNegativeAnswers(t *testing.T) {
	e := &mockEngine{}
	e.On("SupportsFilter", mock.Anything, "delogo").Return(false).Once()

	cached := WithProbeCache(e, time.Minute)
	assert.False(t, cached.SupportsFilter(context.Background(), "delogo"))
	assert.False(t, cached.SupportsFilter(context.Background(), "delogo"))
	e.AssertExpectations(t)
}

func TestCachedProber_ConcurrentCallers(t *testing.T) {
	e := &mockEngine{}
	e.On("SupportsFilter", mock.Anything, "overlay").Return(true)

	cached := WithProbeCache(e, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, cached.SupportsFilter(context.Background(), "overlay"))
		}()
	}
	wg.Wait()

	// singleflight plus the cache keep this well below one probe per caller.
	assert.LessOrEqual(t, len(e.Calls), 20)
	assert.GreaterOrEqual(t, len(e.Calls), 1)
}

func TestCachedProber_DelegatesRun(t *testing.T) {
	e := &mockEngine{}
	e.On("Run", mock.Anything, []string{"out.mp4"}).Return(nil).Once()

	cached := WithProbeCache(e, time.Minute)
	assert.NoError(t, cached.Run(context.Background(), []string{"out.mp4"}))
	e.AssertExpectations(t)
}
