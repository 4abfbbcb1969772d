package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

func seedRequest(t *testing.T, s *Store, id string, recipients ...string) {
	t.Helper()
	now := time.Now().UTC()
	req := &domain.ServiceRequest{
		ID:          id,
		RequesterID: "u1",
		Origin:      domain.Coordinate{Lat: 27.7172, Lng: 85.3240},
		RadiusKm:    5,
		Payload:     domain.RequestPayload{Quantity: 1},
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rc := make([]domain.Recipient, 0, len(recipients))
	for i, p := range recipients {
		rc = append(rc, domain.Recipient{ProviderID: p, DistanceKm: float64(i)})
	}
	require.NoError(t, s.Requests().CreateWithRecipients(context.Background(), req, rc))
}

func offer(requestID, providerID string, kind domain.OfferKind) *domain.ProviderOffer {
	return &domain.ProviderOffer{
		ID:         requestID + "/" + providerID,
		RequestID:  requestID,
		ProviderID: providerID,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRequestRepository_TransitionFromPending(t *testing.T) {
	ctx := context.Background()

	t.Run("AcceptAssignsProvider", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1", "p1")

		got, err := s.Requests().TransitionFromPending(ctx, "r1", domain.StatusAccepted, "p1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAccepted, got.Status)
		assert.Equal(t, "p1", got.AssignedProviderID)
	})

	t.Run("ClosedRequestNeverReopens", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		_, err := s.Requests().TransitionFromPending(ctx, "r1", domain.StatusCancelled, "", time.Now())
		require.NoError(t, err)

		_, err = s.Requests().TransitionFromPending(ctx, "r1", domain.StatusAccepted, "p1", time.Now())
		assert.ErrorIs(t, err, domain.ErrRequestClosed)

		stored, err := s.Requests().GetByID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, stored.Status)
		assert.Empty(t, stored.AssignedProviderID)
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		_, err := NewStore().Requests().TransitionFromPending(ctx, "nope", domain.StatusCancelled, "", time.Now())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("AssignmentMustMatchStatus", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		_, err := s.Requests().TransitionFromPending(ctx, "r1", domain.StatusAccepted, "", time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = s.Requests().TransitionFromPending(ctx, "r1", domain.StatusCancelled, "p1", time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		var wins, closed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = s.Requests().TransitionFromPending(ctx, "r1", domain.StatusAccepted, fmt.Sprintf("p%d", i), time.Now())
				} else {
					_, err = s.Requests().TransitionFromPending(ctx, "r1", domain.StatusCancelled, "", time.Now())
				}
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, domain.ErrRequestClosed):
					closed.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, 63, closed.Load())
	})
}

func TestOfferRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("DuplicateFromSameProvider", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		require.NoError(t, s.Offers().Create(ctx, offer("r1", "p1", domain.OfferAccepted)))
		second := offer("r1", "p1", domain.OfferRejected)
		second.ID = "other"
		assert.ErrorIs(t, s.Offers().Create(ctx, second), domain.ErrDuplicateOffer)

		_, err := s.Offers().GetByID(ctx, "other")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RejectedAfterClose", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")
		_, err := s.Requests().TransitionFromPending(ctx, "r1", domain.StatusCancelled, "", time.Now())
		require.NoError(t, err)

		assert.ErrorIs(t, s.Offers().Create(ctx, offer("r1", "p1", domain.OfferAccepted)), domain.ErrRequestClosed)
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		assert.ErrorIs(t, NewStore().Offers().Create(ctx, offer("r9", "p1", domain.OfferAccepted)), domain.ErrNotFound)
	})

	t.Run("ConcurrentProvidersAllSucceed", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		var wg sync.WaitGroup
		errs := make(chan error, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Offers().Create(ctx, offer("r1", fmt.Sprintf("p%d", i), domain.OfferAccepted))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		offers, err := s.Offers().ListByRequest(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, offers, 50)
	})

	t.Run("ConcurrentDuplicatesOneWins", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1")

		var ok, dup atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				o := offer("r1", "p1", domain.OfferAccepted)
				o.ID = fmt.Sprintf("o%d", i)
				if err := s.Offers().Create(ctx, o); err == nil {
					ok.Add(1)
				} else if assert.ErrorIs(t, err, domain.ErrDuplicateOffer) {
					dup.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.EqualValues(t, 1, ok.Load())
		assert.EqualValues(t, 19, dup.Load())
	})
}

func TestRequestRepository_CloseIfAllRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("EveryRecipientDeclined", func(t *testing.T) {
		s := NewStore()
		seedRequest(t, s, "r1", "p1", "p2")
		require.NoError(t, s.Offers().Create(ctx, offer("r1", "p1", domain.OfferRejected)))
		require.NoError(t, s.Offers().Create(ctx, offer("r1", "p2", domain.OfferRejected)))

		got, ok, err := s.Requests().CloseIfAllRejected(ctx, "r1", time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.StatusRejected, got.Status)

		_, ok, err = s.Requests().CloseIfAllRejected(ctx, "r1", time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "a closed request is left alone")
	})

	t.Run("LeftOpen", func(t *testing.T) {
		cases := map[string]struct {
			recipients []string
			offers     map[string]domain.OfferKind
		}{
			"NoRecipients":        {nil, nil},
			"RecipientStillQuiet": {[]string{"p1", "p2"}, map[string]domain.OfferKind{"p1": domain.OfferRejected}},
			"OutsiderAccepted": {[]string{"p1"}, map[string]domain.OfferKind{
				"p1": domain.OfferRejected, "p9": domain.OfferAccepted,
			}},
			"OutsiderSubstitute": {[]string{"p1"}, map[string]domain.OfferKind{
				"p1": domain.OfferRejected, "p9": domain.OfferSubstitute,
			}},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				s := NewStore()
				seedRequest(t, s, "r1", tc.recipients...)
				for p, kind := range tc.offers {
					require.NoError(t, s.Offers().Create(ctx, offer("r1", p, kind)))
				}

				_, ok, err := s.Requests().CloseIfAllRejected(ctx, "r1", time.Now())
				require.NoError(t, err)
				assert.False(t, ok)
				stored, err := s.Requests().GetByID(ctx, "r1")
				require.NoError(t, err)
				assert.Equal(t, domain.StatusPending, stored.Status)
			})
		}
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		_, _, err := NewStore().Requests().CloseIfAllRejected(ctx, "nope", time.Now())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RacingOutsiderOfferNeverStranded", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			s := NewStore()
			seedRequest(t, s, "r1", "p1")
			require.NoError(t, s.Offers().Create(ctx, offer("r1", "p1", domain.OfferRejected)))

			var (
				wg       sync.WaitGroup
				closed   bool
				offerErr error
			)
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				_, closed, _ = s.Requests().CloseIfAllRejected(ctx, "r1", time.Now())
			}()
			go func() {
				defer wg.Done()
				<-start
				offerErr = s.Offers().Create(ctx, offer("r1", "p9", domain.OfferAccepted))
			}()
			close(start)
			wg.Wait()

			if closed {
				require.ErrorIs(t, offerErr, domain.ErrRequestClosed, "iteration %d", i)
			} else {
				require.NoError(t, offerErr, "iteration %d", i)
			}
		}
	})
}

func TestOfferRepository_CreateRacingTransition(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedRequest(t, s, "r1")

	var (
		wg       sync.WaitGroup
		snapshot []domain.ProviderOffer
		stored   atomic.Int32
	)
	start := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := s.Requests().TransitionFromPending(ctx, "r1", domain.StatusCancelled, "", time.Now())
		assert.NoError(t, err)
		snapshot, err = s.Offers().ListByRequest(ctx, "r1")
		assert.NoError(t, err)
	}()
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := s.Offers().Create(ctx, offer("r1", fmt.Sprintf("p%d", i), domain.OfferAccepted))
			if err == nil {
				stored.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrRequestClosed)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	final, err := s.Offers().ListByRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, snapshot, final, "offers stored after the transition")
	assert.Len(t, final, int(stored.Load()))
}

func TestOfferRepository_StatsForProvider(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedRequest(t, s, "r1", "p1", "p2")
	seedRequest(t, s, "r2", "p1")
	seedRequest(t, s, "r3", "p2")

	created := func(id string) time.Time {
		req, err := s.Requests().GetByID(ctx, id)
		require.NoError(t, err)
		return req.CreatedAt
	}
	answer := func(requestID, providerID string, kind domain.OfferKind, after time.Duration) {
		o := offer(requestID, providerID, kind)
		o.CreatedAt = created(requestID).Add(after)
		require.NoError(t, s.Offers().Create(ctx, o))
	}
	answer("r1", "p1", domain.OfferAccepted, 2*time.Minute)
	answer("r2", "p1", domain.OfferSubstitute, 4*time.Minute)
	answer("r3", "p1", domain.OfferRejected, -time.Minute) // not a recipient; clock skew
	answer("r1", "p2", domain.OfferRejected, time.Minute)

	st, err := s.Offers().StatsForProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStats{
		Notified: 2, Responded: 2,
		Accepted: 1, Rejected: 1, Substituted: 1,
		TimedOffers: 2, ResponseTime: 6 * time.Minute,
	}, st)

	st, err = s.Offers().StatsForProvider(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Notified)
	assert.Equal(t, 1, st.Responded)
	assert.Equal(t, 1, st.Rejected)

	st, err = s.Offers().StatsForProvider(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStats{}, st)
}

func TestRequestRepository_Listings(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedRequest(t, s, "r1", "p1", "p2")
	seedRequest(t, s, "r2", "p2")
	seedRequest(t, s, "r3", "p1")
	_, err := s.Requests().TransitionFromPending(ctx, "r3", domain.StatusCancelled, "", time.Now())
	require.NoError(t, err)

	pending, err := s.Requests().ListPendingForProvider(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)

	mine, err := s.Requests().ListByRequester(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	isRecipient, err := s.Requests().IsRecipient(ctx, "r2", "p1")
	require.NoError(t, err)
	assert.False(t, isRecipient)

	recipients, err := s.Requests().Recipients(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Recipient{{ProviderID: "p1", DistanceKm: 0}, {ProviderID: "p2", DistanceKm: 1}}, recipients)
}

func TestEndpointDirectory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	owner := domain.ProviderKey("p1")

	ep, err := s.Endpoints().Register(ctx, &domain.DeliveryEndpoint{Owner: owner, Token: "tok-1", Platform: "android"})
	require.NoError(t, err)
	assert.True(t, ep.Active)

	require.NoError(t, s.Endpoints().DeactivateToken(ctx, "tok-1"))
	require.NoError(t, s.Endpoints().DeactivateToken(ctx, "tok-1"), "deactivation is idempotent")
	require.NoError(t, s.Endpoints().DeactivateToken(ctx, "unknown"))

	active, err := s.Endpoints().ListActive(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, active)

	again, err := s.Endpoints().Register(ctx, &domain.DeliveryEndpoint{Owner: owner, Token: "tok-1", Platform: "ios"})
	require.NoError(t, err)
	assert.Equal(t, ep.ID, again.ID, "re-registering a token reactivates the same endpoint")
	assert.Equal(t, "ios", again.Platform)

	assert.ErrorIs(t, s.Endpoints().Deactivate(ctx, domain.ProviderKey("p2"), ep.ID), domain.ErrNotFound)
	require.NoError(t, s.Endpoints().Deactivate(ctx, owner, ep.ID))
}
