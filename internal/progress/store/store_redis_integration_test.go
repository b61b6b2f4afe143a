//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"assessgate/internal/progress/models"
	"assessgate/internal/progress/store"
	"assessgate/pkg/platform/sentinel"
	"assessgate/pkg/testutil/containers"
)

type RedisShareStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisShareStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisShareStoreSuite))
}

func (s *RedisShareStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisShareStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeShare(code string, ttl time.Duration) *models.ShareRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.ShareRecord{
		Code:             code,
		Responses:        map[string]float64{"q1": 2},
		ProgressPercent:  25,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		LastAccessedAt:   now,
		ParticipantCount: 1,
	}
}

func (s *RedisShareStoreSuite) TestSaveFindConflict() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, makeShare("HJKM2345", time.Hour)))

	got, err := s.store.Find(ctx, "HJKM2345")
	s.Require().NoError(err)
	s.Equal(2.0, got.Responses["q1"])
	s.Equal(1, got.ParticipantCount)

	err = s.store.Save(ctx, makeShare("HJKM2345", time.Hour))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Find(ctx, "NOPE2345")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisShareStoreSuite) TestExecuteKeepsTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, makeShare("TTLK2345", time.Hour)))
	before, err := s.redis.Client.TTL(ctx, "share:TTLK2345").Result()
	s.Require().NoError(err)

	_, err = s.store.Execute(ctx, "TTLK2345", func(r *models.ShareRecord) error {
		r.ProgressPercent = 80
		return nil
	})
	s.Require().NoError(err)

	after, err := s.redis.Client.TTL(ctx, "share:TTLK2345").Result()
	s.Require().NoError(err)
	s.LessOrEqual(after, before)
	s.Greater(after, time.Duration(0))
}

func (s *RedisShareStoreSuite) TestExecuteErrorDiscardsChanges() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, makeShare("DISC2345", time.Hour)))

	boom := errors.New("boom")
	_, err := s.store.Execute(ctx, "DISC2345", func(r *models.ShareRecord) error {
		r.ParticipantCount = 50
		return boom
	})
	s.Require().ErrorIs(err, boom)

	got, err := s.store.Find(ctx, "DISC2345")
	s.Require().NoError(err)
	s.Equal(1, got.ParticipantCount)
}

func (s *RedisShareStoreSuite) TestConcurrentExecute() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, makeShare("CONC2345", time.Hour)))

	const writers = 4
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, "CONC2345", func(r *models.ShareRecord) error {
				r.ParticipantCount++
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.store.Find(ctx, "CONC2345")
	s.Require().NoError(err)
	s.Equal(1+writers, got.ParticipantCount)
}
