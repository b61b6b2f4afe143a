package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"assessgate/internal/access/models"
	"assessgate/internal/access/store"
	jwttoken "assessgate/internal/jwt_token"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/audit"
	"assessgate/pkg/requestcontext"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []models.Delivery
	err        error
}

func (n *recordingNotifier) SendAccessCode(_ context.Context, d models.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return n.err
}

func (n *recordingNotifier) last() models.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deliveries[len(n.deliveries)-1]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) actions() []audit.AuditEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audit.AuditEvent, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Action)
	}
	return out
}

type AccessServiceSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	notifier *recordingNotifier
	emitter  *recordingEmitter
	jwt      *jwttoken.JWTService
	service  *Service
	now      time.Time
}

func TestAccessServiceSuite(t *testing.T) {
	suite.Run(t, new(AccessServiceSuite))
}

func (s *AccessServiceSuite) SetupTest() {
	s.store = store.New()
	s.notifier = &recordingNotifier{}
	s.emitter = &recordingEmitter{}
	s.jwt = jwttoken.NewJWTService("test-signing-key-with-enough-bytes!!", "assessgate", "report-access")
	s.now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	s.service = New(s.store, s.notifier, s.jwt, Config{
		CodeTTL:     10 * time.Minute,
		MaxAttempts: 5,
		GrantTTL:    30 * time.Minute,
		BcryptCost:  bcrypt.MinCost,
	}, WithAuditor(s.emitter))
}

func (s *AccessServiceSuite) TearDownTest() {
	s.store.Close()
}

func (s *AccessServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *AccessServiceSuite) issue() string {
	res, err := s.service.Request(s.at(0), "Ada@Example.com", "abc123")
	s.Require().NoError(err)
	s.Require().True(res.Sent)
	return s.notifier.last().Code
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func (s *AccessServiceSuite) TestRequest() {
	s.Run("issues a six digit code bound to the normalized subject", func() {
		res, err := s.service.Request(s.at(0), " Ada@Example.com ", "abc123")
		s.Require().NoError(err)
		s.True(res.Sent)
		s.Equal(s.now.Add(10*time.Minute), res.ExpiresAt)

		d := s.notifier.last()
		s.Len(d.Code, 6)
		s.Regexp(`^[0-9]{6}$`, d.Code)
		s.Equal("ada@example.com", d.Email)
		s.Equal("diag_abc123", d.DiagnosisID)
	})

	s.Run("rejects an invalid diagnosis id", func() {
		_, err := s.service.Request(s.at(0), "ada@example.com", "bad id/with space")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("notifier failure reports sent=false and keeps the code", func() {
		s.notifier.err = errors.New("smtp down")
		defer func() { s.notifier.err = nil }()

		res, err := s.service.Request(s.at(0), "bob@example.com", "diag_42")
		s.Require().NoError(err)
		s.False(res.Sent)
		s.Contains(s.emitter.actions(), audit.EventAccessCodeDeliveryFailed)

		code := s.notifier.last().Code
		verify, err := s.service.Verify(s.at(time.Minute), "bob@example.com", "diag_42", code)
		s.Require().NoError(err)
		s.True(verify.Granted())
	})
}

func (s *AccessServiceSuite) TestVerify() {
	s.Run("correct code grants once", func() {
		code := s.issue()

		res, err := s.service.Verify(s.at(time.Minute), "ada@example.com", "diag_abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusGranted, res.Status)
		s.Require().NotNil(res.Grant)
		s.Equal(s.now.Add(time.Minute+30*time.Minute), res.Grant.ExpiresAt)

		claims, err := s.jwt.ValidateGrant(res.Grant.Token, s.now.Add(2*time.Minute))
		s.Require().NoError(err)
		s.Equal("ada@example.com", claims.Email)
		s.Equal("diag_abc123", claims.DiagnosisID)

		again, err := s.service.Verify(s.at(2*time.Minute), "ada@example.com", "diag_abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusNotFound, again.Status)
		s.Nil(again.Grant)
	})

	s.Run("unknown subject is not_found", func() {
		res, err := s.service.Verify(s.at(0), "nobody@example.com", "diag_zzz", "123456")
		s.Require().NoError(err)
		s.Equal(models.StatusNotFound, res.Status)
	})

	s.Run("mismatch counts down remaining attempts", func() {
		code := s.issue()
		bad := wrongCode(code)

		for want := 4; want >= 0; want-- {
			res, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", bad)
			s.Require().NoError(err)
			s.Equal(models.StatusMismatch, res.Status)
			s.Equal(want, res.RemainingAttempts)
		}

		res, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusAttemptsExceeded, res.Status)

		after, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusNotFound, after.Status)
	})

	s.Run("correct code on the last allowed attempt still grants", func() {
		code := s.issue()
		bad := wrongCode(code)
		for i := 0; i < 4; i++ {
			_, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", bad)
			s.Require().NoError(err)
		}

		res, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusGranted, res.Status)
	})

	s.Run("code is valid at exactly the ttl and expired one second later", func() {
		code := s.issue()
		res, err := s.service.Verify(s.at(10*time.Minute), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusGranted, res.Status)

		code = s.issue()
		res, err = s.service.Verify(s.at(10*time.Minute+time.Second), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, res.Status)

		res, err = s.service.Verify(s.at(10*time.Minute+time.Second), "ada@example.com", "abc123", code)
		s.Require().NoError(err)
		s.Equal(models.StatusNotFound, res.Status)
	})

	s.Run("a new request replaces the previous code", func() {
		first := s.issue()
		second := s.issue()
		if first == second {
			s.T().Skip("codes collided")
		}

		res, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", first)
		s.Require().NoError(err)
		s.Equal(models.StatusMismatch, res.Status)

		res, err = s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", second)
		s.Require().NoError(err)
		s.Equal(models.StatusGranted, res.Status)
	})
}

func (s *AccessServiceSuite) TestConcurrentVerifyGrantsOnce() {
	code := s.issue()

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", code)
			if err != nil || !res.Granted() {
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(1, granted)
}

func (s *AccessServiceSuite) TestAuditTrail() {
	code := s.issue()
	_, err := s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", wrongCode(code))
	s.Require().NoError(err)
	_, err = s.service.Verify(s.at(time.Second), "ada@example.com", "abc123", code)
	s.Require().NoError(err)

	s.Equal([]audit.AuditEvent{
		audit.EventAccessCodeIssued,
		audit.EventAccessDenied,
		audit.EventAccessGranted,
	}, s.emitter.actions())
	for _, ev := range s.emitter.events {
		s.Equal("a***@example.com", ev.Subject)
	}
}
