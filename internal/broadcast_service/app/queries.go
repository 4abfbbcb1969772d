package app

import (
	"context"
	"fmt"
	"math"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// RequestDetail is a request as seen by one caller. The owner sees every
// offer; a provider sees only its own.
type RequestDetail struct {
	Request *domain.ServiceRequest
	Offers  []domain.ProviderOffer
}

// GetRequest lets a client recover state it may have missed while offline.
// Providers may read requests they were notified about or answered.
func (m *LifecycleManager) GetRequest(ctx context.Context, caller domain.Identity, requestID string) (*RequestDetail, error) {
	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	offers, err := m.offers.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch caller.Role {
	case domain.RoleRequester:
		if req.RequesterID != caller.ID {
			return nil, domain.ErrNotAuthorized
		}
		return &RequestDetail{Request: req, Offers: offers}, nil
	case domain.RoleProvider:
		own := []domain.ProviderOffer{}
		for _, o := range offers {
			if o.ProviderID == caller.ID {
				own = append(own, o)
			}
		}
		if len(own) == 0 {
			ok, err := m.requests.IsRecipient(ctx, requestID, caller.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.ErrNotAuthorized
			}
		}
		return &RequestDetail{Request: req, Offers: own}, nil
	}
	return nil, domain.ErrNotAuthorized
}

// ListOffers returns every offer on a request the caller owns, oldest first.
func (m *LifecycleManager) ListOffers(ctx context.Context, caller domain.Identity, requestID string) ([]domain.ProviderOffer, error) {
	if caller.Role != domain.RoleRequester {
		return nil, domain.ErrNotAuthorized
	}
	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != caller.ID {
		return nil, domain.ErrNotAuthorized
	}
	return m.offers.ListByRequest(ctx, requestID)
}

// ListMyRequests returns the caller's requests, newest first.
func (m *LifecycleManager) ListMyRequests(ctx context.Context, caller domain.Identity, limit int) ([]domain.ServiceRequest, error) {
	if caller.Role != domain.RoleRequester {
		return nil, domain.ErrNotAuthorized
	}
	return m.requests.ListByRequester(ctx, caller.ID, clampLimit(limit))
}

// ListProviderInbox returns PENDING requests the calling provider was notified about.
func (m *LifecycleManager) ListProviderInbox(ctx context.Context, caller domain.Identity, limit int) ([]domain.ServiceRequest, error) {
	if caller.Role != domain.RoleProvider {
		return nil, domain.ErrNotAuthorized
	}
	return m.requests.ListPendingForProvider(ctx, caller.ID, clampLimit(limit))
}

// ProviderProfile is what a provider reports about itself for matching.
type ProviderProfile struct {
	Name     string
	Location domain.Coordinate
	Active   bool
}

// UpdateProviderProfile upserts the caller into the provider directory.
// Requests created afterwards match against the new location.
func (m *LifecycleManager) UpdateProviderProfile(ctx context.Context, caller domain.Identity, in ProviderProfile) (*domain.Provider, error) {
	if caller.Role != domain.RoleProvider {
		return nil, domain.ErrNotAuthorized
	}
	if math.IsNaN(in.Location.Lat) || in.Location.Lat < -90 || in.Location.Lat > 90 ||
		math.IsNaN(in.Location.Lng) || in.Location.Lng < -180 || in.Location.Lng > 180 {
		return nil, fmt.Errorf("%w: location out of range", domain.ErrInvalidInput)
	}
	name := in.Name
	if name == "" {
		name = caller.Name
	}
	p := &domain.Provider{ID: caller.ID, Name: name, Location: in.Location, Active: in.Active}
	if err := m.providers.Upsert(ctx, p); err != nil {
		m.logger.ErrorContext(ctx, "Failed to update provider profile", "provider_id", caller.ID, "error", err)
		return nil, err
	}
	m.logger.InfoContext(ctx, "Provider profile updated", "provider_id", p.ID, "active", p.Active)
	return p, nil
}

// Response-time benchmarks, in minutes.
const (
	goodResponseMinutes = 5
	fairResponseMinutes = 10
)

// ProviderAnalytics summarises how a provider answers the requests it is sent.
type ProviderAnalytics struct {
	Notified           int
	Responded          int
	ResponseRate       float64 // percent, one decimal
	AvgResponseMinutes float64 // one decimal
	Benchmark          string  // good | fair | slow
	Accepted           int
	Rejected           int
	Substituted        int
}

// ProviderAnalytics reports the caller's response rate, mean response delay
// and the split of its offers by kind.
func (m *LifecycleManager) ProviderAnalytics(ctx context.Context, caller domain.Identity) (*ProviderAnalytics, error) {
	if caller.Role != domain.RoleProvider {
		return nil, domain.ErrNotAuthorized
	}
	st, err := m.offers.StatsForProvider(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	a := &ProviderAnalytics{
		Notified:    st.Notified,
		Responded:   st.Responded,
		Accepted:    st.Accepted,
		Rejected:    st.Rejected,
		Substituted: st.Substituted,
	}
	if st.Notified > 0 {
		a.ResponseRate = roundTenth(float64(st.Responded) / float64(st.Notified) * 100)
	}
	if st.TimedOffers > 0 {
		a.AvgResponseMinutes = roundTenth(st.ResponseTime.Minutes() / float64(st.TimedOffers))
	}
	switch {
	case a.AvgResponseMinutes < goodResponseMinutes:
		a.Benchmark = "good"
	case a.AvgResponseMinutes < fairResponseMinutes:
		a.Benchmark = "fair"
	default:
		a.Benchmark = "slow"
	}
	return a, nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}
