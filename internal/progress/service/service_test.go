package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"assessgate/internal/progress/models"
	"assessgate/internal/progress/store"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/requestcontext"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ProgressServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	now     time.Time
}

func TestProgressServiceSuite(t *testing.T) {
	suite.Run(t, new(ProgressServiceSuite))
}

func (s *ProgressServiceSuite) SetupTest() {
	s.now = time.Now().UTC()
	s.store = store.New()
	s.service = New(s.store, Config{
		TTL:       time.Hour,
		Debounce:  30 * time.Second,
		OwnerSalt: "test-salt",
	})
}

func (s *ProgressServiceSuite) TearDownTest() {
	s.store.Close()
}

func (s *ProgressServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *ProgressServiceSuite) create() *models.Share {
	share, err := s.service.Create(s.at(0), models.Progress{
		Responses:       map[string]float64{"q1": 3, "q2": 1},
		ProgressPercent: 40,
		Score:           12,
	})
	s.Require().NoError(err)
	return share
}

func (s *ProgressServiceSuite) TestCreate() {
	share := s.create()

	s.Len(share.Code, CodeLength)
	for _, c := range share.Code {
		s.True(strings.ContainsRune(CodeAlphabet, c), "unexpected character %q", c)
	}
	s.Equal(s.now.Add(time.Hour), share.ExpiresAt)
	s.Equal(s.service.OwnerKey(share.Code), share.OwnerKey)

	record, err := s.store.Find(context.Background(), share.Code)
	s.Require().NoError(err)
	s.Equal(1, record.ParticipantCount)
	s.Equal(40.0, record.ProgressPercent)
}

func (s *ProgressServiceSuite) TestReadDebounce() {
	share := s.create()

	s.Run("reads inside the window count once", func() {
		first, err := s.service.Read(s.at(31*time.Second), share.Code, false)
		s.Require().NoError(err)
		s.Equal(2, first.ParticipantCount)

		second, err := s.service.Read(s.at(45*time.Second), share.Code, false)
		s.Require().NoError(err)
		s.Equal(2, second.ParticipantCount)
	})

	s.Run("a read after a quiet window counts again", func() {
		got, err := s.service.Read(s.at(2*time.Minute), share.Code, false)
		s.Require().NoError(err)
		s.Equal(3, got.ParticipantCount)
	})

	s.Run("automated readers are not participants", func() {
		got, err := s.service.Read(s.at(10*time.Minute), share.Code, true)
		s.Require().NoError(err)
		s.Equal(3, got.ParticipantCount)

		human, err := s.service.Read(s.at(10*time.Minute+time.Second), share.Code, false)
		s.Require().NoError(err)
		s.Equal(4, human.ParticipantCount, "bot read must not refresh lastAccessedAt")
	})

	s.Run("lowercase codes resolve", func() {
		_, err := s.service.Read(s.at(11*time.Minute), strings.ToLower(share.Code), true)
		s.Require().NoError(err)
	})
}

func (s *ProgressServiceSuite) TestReadReturnsCopy() {
	share := s.create()

	got, err := s.service.Read(s.at(time.Second), share.Code, false)
	s.Require().NoError(err)
	got.Responses["q1"] = 1000

	again, err := s.service.Read(s.at(2*time.Second), share.Code, false)
	s.Require().NoError(err)
	s.Equal(3.0, again.Responses["q1"])
}

func (s *ProgressServiceSuite) TestConcurrentReadsWithinWindow() {
	share := s.create()

	const readers = 20
	var wg sync.WaitGroup
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.service.Read(s.at(time.Minute), share.Code, false)
		}()
	}
	wg.Wait()

	got, err := s.service.Read(s.at(time.Minute), share.Code, true)
	s.Require().NoError(err)
	s.Equal(2, got.ParticipantCount)
}

func (s *ProgressServiceSuite) TestReadNotFound() {
	for _, code := range []string{"", "short", "ABCDEFG0", "ZZZZZZZZ"} {
		_, err := s.service.Read(s.at(0), code, false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "code %q", code)
	}
}

func (s *ProgressServiceSuite) TestReadAfterLifetime() {
	share := s.create()

	_, err := s.service.Read(s.at(time.Hour), share.Code, false)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Read(s.at(time.Hour), share.Code, true)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ProgressServiceSuite) TestUpdate() {
	share := s.create()

	s.Run("owner can replace progress", func() {
		got, err := s.service.Update(s.at(time.Minute), share.Code, share.OwnerKey, models.Progress{
			Responses:       map[string]float64{"q1": 4},
			ProgressPercent: 90,
			Score:           20,
		})
		s.Require().NoError(err)
		s.Equal(90.0, got.ProgressPercent)
		s.Equal(map[string]float64{"q1": 4}, got.Responses)
		s.Equal(share.ExpiresAt, got.ExpiresAt)
		s.Equal(1, got.ParticipantCount)
	})

	s.Run("wrong key is forbidden", func() {
		_, err := s.service.Update(s.at(time.Minute), share.Code, "deadbeef", models.Progress{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		_, err = s.service.Update(s.at(time.Minute), share.Code, "not-hex", models.Progress{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("expired share cannot be updated", func() {
		_, err := s.service.Update(s.at(2*time.Hour), share.Code, share.OwnerKey, models.Progress{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
