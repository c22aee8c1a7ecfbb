package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"ticketd/internal/ratelimit/models"
	"ticketd/pkg/requestcontext"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type bucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error)
	Reset(ctx context.Context, key string) error
	GetCurrentCount(ctx context.Context, key string) (int, error)
}

// bucketSuite runs the same sliding window checks against every backend.
type bucketSuite struct {
	suite.Suite
	newStore func() bucketStore
	store    bucketStore
	now      time.Time
}

func (s *bucketSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *bucketSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func TestInMemoryBucketStore(t *testing.T) {
	suite.Run(t, &bucketSuite{newStore: func() bucketStore { return NewInMemoryBucketStore() }})
}

func TestRedisBucketStore(t *testing.T) {
	suite.Run(t, &bucketSuite{newStore: func() bucketStore {
		mr := miniredis.RunT(t)
		return NewRedisBucketStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	}})
}

func (s *bucketSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.at(0), "test:allow:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("requests up to limit allowed", func() {
		var result *models.Result
		var err error
		for range testLimit {
			result, err = s.store.Allow(s.at(0), "test:allow:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied with retry hint", func() {
		for range testLimit {
			_, err := s.store.Allow(s.at(0), "test:allow:over", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.at(20*time.Second), "test:allow:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(40, result.RetryAfter)
		s.True(result.ResetAt.Equal(s.now.Add(testWindow)))
	})

	s.Run("window slides", func() {
		for range testLimit {
			_, err := s.store.Allow(s.at(0), "test:allow:slide", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.at(testWindow+time.Second), "test:allow:slide", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})
}

func (s *bucketSuite) TestAllowN() {
	s.Run("cost consumes several slots", func() {
		result, err := s.store.AllowN(s.at(0), "test:allown:five", 5, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(5, result.Remaining)
	})

	s.Run("cost greater than remaining takes nothing", func() {
		first, err := s.store.AllowN(s.at(0), "test:allown:deny", 7, testLimit, testWindow)
		s.Require().NoError(err)
		s.Require().True(first.Allowed)

		result, err := s.store.AllowN(s.at(0), "test:allown:deny", 4, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)

		count, err := s.store.GetCurrentCount(s.at(0), "test:allown:deny")
		s.Require().NoError(err)
		s.Equal(7, count)
	})
}

func (s *bucketSuite) TestReset() {
	_, err := s.store.AllowN(s.at(0), "test:reset", 5, testLimit, testWindow)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.at(0), "test:reset"))

	count, err := s.store.GetCurrentCount(s.at(0), "test:reset")
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *bucketSuite) TestKeysAreIndependent() {
	for range testLimit {
		_, err := s.store.Allow(s.at(0), models.NewIPKey(models.ClassDeviceVerify, "10.0.0.1"), testLimit, testWindow)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.at(0), models.NewIPKey(models.ClassDeviceVerify, "10.0.0.2"), testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.store.Allow(s.at(0), models.NewIPKey(models.ClassToken, "10.0.0.1"), testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *bucketSuite) TestConcurrentRequestsNeverExceedLimit() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 3 * testLimit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(s.at(0), "test:concurrent", testLimit, testWindow)
			if err != nil || !res.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}

func TestSanitizeKeySegment(t *testing.T) {
	if got := models.NewIPKey(models.ClassToken, "::1"); got != "rl:ip:token:__1" {
		t.Fatalf("unexpected key %q", got)
	}
}
