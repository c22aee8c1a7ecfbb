package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"ticketd/internal/authn"
	"ticketd/internal/ticket/models"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

// contractSuite is the behaviour every backend must honour. Backend test
// files embed it and set newStore.
type contractSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	now      time.Time
}

func (s *contractSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
}

func (s *contractSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *contractSuite) accessToken(id string, ttl time.Duration) *models.Ticket {
	t := models.New(id, models.KindAccessToken, s.now, models.Timeout(ttl))
	t.Token = &models.TokenData{
		Authentication: authn.Authentication{Principal: authn.Principal{ID: "alice"}},
		Service:        "https://app.example.com",
		ClientID:       "app",
		GrantType:      "password",
	}
	return t
}

func (s *contractSuite) TestAddAndGet() {
	s.Run("round trips a ticket", func() {
		tk := s.accessToken("AT-get", time.Hour)
		s.Require().NoError(s.store.Add(s.at(0), tk))

		got, err := s.store.Get(s.at(time.Minute), "AT-get")
		s.Require().NoError(err)
		s.Equal("alice", got.Principal())
		s.Equal(models.KindAccessToken, got.Kind)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.at(0), "AT-missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate id conflicts", func() {
		s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-dup", time.Hour)))
		err := s.store.Add(s.at(0), s.accessToken("AT-dup", time.Hour))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("returned tickets are copies", func() {
		s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-copy", time.Hour)))
		got, err := s.store.Get(s.at(0), "AT-copy")
		s.Require().NoError(err)
		got.Token.ClientID = "tampered"

		again, err := s.store.Get(s.at(0), "AT-copy")
		s.Require().NoError(err)
		s.Equal("app", again.Token.ClientID)
	})
}

func (s *contractSuite) TestGetKind() {
	s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-kind", time.Hour)))

	_, err := s.store.GetKind(s.at(0), "AT-kind", models.KindRefreshToken)
	s.ErrorIs(err, sentinel.ErrWrongKind)

	got, err := s.store.GetKind(s.at(0), "AT-kind", models.KindAccessToken)
	s.Require().NoError(err)
	s.Equal("AT-kind", got.ID)

	_, err = s.store.GetKind(s.at(0), "AT-nope", models.KindAccessToken)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestExpiredTicketsStayAbsent() {
	s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-exp", time.Minute)))

	_, err := s.store.Get(s.at(59*time.Second), "AT-exp")
	s.Require().NoError(err)

	for _, d := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		_, err := s.store.Get(s.at(d), "AT-exp")
		s.Require().Error(err)
		s.True(sentinel.IsAbsent(err), "expired ticket returned at +%s", d)
	}

	_, err = s.store.Execute(s.at(2*time.Minute), "AT-exp", func(t *models.Ticket) (Action, error) {
		s.Fail("mutate must not see an expired ticket")
		return ActionKeep, nil
	})
	s.True(sentinel.IsAbsent(err))
}

func (s *contractSuite) TestAddAllIsAllOrNothing() {
	s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-taken", time.Hour)))

	rt := models.New("RT-fresh", models.KindRefreshToken, s.now, models.Timeout(time.Hour))
	err := s.store.AddAll(s.at(0), rt, s.accessToken("AT-taken", time.Hour))
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Get(s.at(0), "RT-fresh")
	s.ErrorIs(err, sentinel.ErrNotFound, "no partial batch may be visible")

	s.Require().NoError(s.store.AddAll(s.at(0), rt, s.accessToken("AT-pair", time.Hour)))
	_, err = s.store.Get(s.at(0), "RT-fresh")
	s.NoError(err)
	_, err = s.store.Get(s.at(0), "AT-pair")
	s.NoError(err)
}

func (s *contractSuite) TestReplace() {
	s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-rep", time.Hour)))

	tk, err := s.store.Get(s.at(0), "AT-rep")
	s.Require().NoError(err)
	tk.Token.Scopes = []string{"openid"}
	s.Require().NoError(s.store.Replace(s.at(0), tk))

	got, err := s.store.Get(s.at(0), "AT-rep")
	s.Require().NoError(err)
	s.Equal([]string{"openid"}, got.Token.Scopes)

	err = s.store.Replace(s.at(0), s.accessToken("AT-absent", time.Hour))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestExecute() {
	s.Run("save applies the mutation", func() {
		s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-mut", time.Hour)))
		_, err := s.store.Execute(s.at(0), "AT-mut", func(t *models.Ticket) (Action, error) {
			t.Touch(s.now.Add(time.Second))
			return ActionSave, nil
		})
		s.Require().NoError(err)
		got, err := s.store.Get(s.at(0), "AT-mut")
		s.Require().NoError(err)
		s.Equal(1, got.UseCount)
	})

	s.Run("action applies even when fn errors", func() {
		s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-rej", time.Hour)))
		boom := errors.New("rejected")
		_, err := s.store.Execute(s.at(0), "AT-rej", func(t *models.Ticket) (Action, error) {
			return ActionDelete, boom
		})
		s.ErrorIs(err, boom)
		_, err = s.store.Get(s.at(0), "AT-rej")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("keep with error leaves ticket", func() {
		s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-keep", time.Hour)))
		_, err := Consume(s.at(0), s.store, "AT-keep", func(t *models.Ticket) error {
			return errors.New("not yet")
		})
		s.Error(err)
		_, err = s.store.Get(s.at(0), "AT-keep")
		s.NoError(err)
	})
}

func (s *contractSuite) TestConsumeOnceUnderContention() {
	s.Require().NoError(s.store.Add(s.at(0), s.accessToken("AT-race", time.Hour)))

	const pollers = 20
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		absents atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := Consume(s.at(0), s.store, "AT-race", nil)
			switch {
			case err == nil:
				wins.Add(1)
			case sentinel.IsAbsent(err):
				absents.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(pollers-1), absents.Load())
}

func (s *contractSuite) TestDeleteWithDescendants() {
	tgt := models.New("TGT-root", models.KindGrantingTicket, s.now, models.Never())
	rt := models.New("RT-child", models.KindRefreshToken, s.now, models.Timeout(time.Hour))
	rt.ParentID = tgt.ID
	at := s.accessToken("AT-grandchild", time.Hour)
	at.ParentID = rt.ID
	other := s.accessToken("AT-other", time.Hour)
	s.Require().NoError(s.store.AddAll(s.at(0), tgt, rt, at, other))

	n, err := s.store.DeleteWithDescendants(s.at(0), tgt.ID)
	s.Require().NoError(err)
	s.Equal(3, n)

	_, err = s.store.Get(s.at(0), at.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Get(s.at(0), other.ID)
	s.NoError(err)
}

func (s *contractSuite) TestDeleteExpiredAndCount() {
	s.Require().NoError(s.store.AddAll(s.at(0),
		s.accessToken("AT-short", time.Minute),
		s.accessToken("AT-long", time.Hour),
		models.New("TGT-forever", models.KindGrantingTicket, s.now, models.Never()),
	))

	n, err := s.store.Count(s.at(2*time.Minute), models.KindAccessToken)
	s.Require().NoError(err)
	s.Equal(1, n)

	removed, err := s.store.DeleteExpired(s.at(2 * time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)

	n, err = s.store.Count(s.at(2*time.Minute), models.KindGrantingTicket)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.NoError(s.store.Delete(s.at(0), "AT-long"))
	s.NoError(s.store.Delete(s.at(0), "AT-long"), "delete is idempotent")
}
