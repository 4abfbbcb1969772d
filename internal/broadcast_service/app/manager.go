// Package app holds the request lifecycle: creation with proximity matching,
// offers, selection, cancellation and the reads clients use to re-sync.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/geo"
)

// Notifier delivers one event to one recipient. It must not block on slow
// consumers and never fails the caller.
type Notifier interface {
	Deliver(ctx context.Context, recipient domain.RecipientKey, ev domain.Event)
}

const defaultListLimit = 50

// LifecycleManager owns every status transition of a ServiceRequest.
// All transitions go through the repository compare-and-swap, so exactly one
// of any set of concurrent select, cancel or reject attempts wins.
type LifecycleManager struct {
	requests    domain.RequestRepository
	offers      domain.OfferRepository
	providers   domain.ProviderDirectory
	notifier    Notifier
	logger      *slog.Logger
	maxRadiusKm float64

	now   func() time.Time
	newID func() string
}

// Option customises a LifecycleManager.
type Option func(*LifecycleManager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *LifecycleManager) { m.now = now }
}

// WithIDGenerator replaces the UUID generator for request and offer IDs.
func WithIDGenerator(gen func() string) Option {
	return func(m *LifecycleManager) { m.newID = gen }
}

func NewLifecycleManager(
	requests domain.RequestRepository,
	offers domain.OfferRepository,
	providers domain.ProviderDirectory,
	notifier Notifier,
	logger *slog.Logger,
	maxRadiusKm float64,
	opts ...Option,
) *LifecycleManager {
	m := &LifecycleManager{
		requests:    requests,
		offers:      offers,
		providers:   providers,
		notifier:    notifier,
		logger:      logger.With("component", "request_lifecycle"),
		maxRadiusKm: maxRadiusKm,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequestInput is a requester's broadcast.
type CreateRequestInput struct {
	Origin   domain.Coordinate
	RadiusKm float64
	Payload  domain.RequestPayload
}

// CreateRequestResult carries the stored request and the providers it was sent to.
type CreateRequestResult struct {
	Request    *domain.ServiceRequest
	Recipients []domain.Recipient
}

func (r *CreateRequestResult) NearbyCount() int { return len(r.Recipients) }

// CreateRequest stores a PENDING request together with the set of active
// providers within the radius, then notifies each of them. A request with no
// provider in range is still created.
func (m *LifecycleManager) CreateRequest(ctx context.Context, caller domain.Identity, in CreateRequestInput) (*CreateRequestResult, error) {
	timer := prometheus.NewTimer(operationDurationHist.WithLabelValues("create_request"))
	defer timer.ObserveDuration()

	if caller.Role != domain.RoleRequester {
		return nil, domain.ErrNotAuthorized
	}
	if err := m.validateCreate(in); err != nil {
		return nil, err
	}

	candidates, err := m.providers.ListActive(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to list active providers", "error", err)
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	matches := geo.Nearby(in.Origin, in.RadiusKm, candidates)
	recipients := make([]domain.Recipient, 0, len(matches))
	for _, match := range matches {
		recipients = append(recipients, domain.Recipient{ProviderID: match.Provider.ID, DistanceKm: match.DistanceKm})
	}

	now := m.now()
	req := &domain.ServiceRequest{
		ID:            m.newID(),
		RequesterID:   caller.ID,
		RequesterName: caller.Name,
		Origin:        in.Origin,
		RadiusKm:      in.RadiusKm,
		Payload:       in.Payload,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.requests.CreateWithRecipients(ctx, req, recipients); err != nil {
		m.logger.ErrorContext(ctx, "Failed to store request", "requester_id", caller.ID, "error", err)
		return nil, err
	}

	nearbyProvidersHist.Observe(float64(len(recipients)))
	if len(recipients) == 0 {
		requestsCreatedCounter.WithLabelValues("none").Inc()
		m.logger.InfoContext(ctx, "Request created with no provider in range", "request_id", req.ID, "radius_km", req.RadiusKm)
	} else {
		requestsCreatedCounter.WithLabelValues("nearby").Inc()
		m.logger.InfoContext(ctx, "Request created", "request_id", req.ID, "nearby", len(recipients), "radius_km", req.RadiusKm)
	}

	deliverCtx := context.WithoutCancel(ctx)
	for _, rc := range recipients {
		m.notifier.Deliver(deliverCtx, domain.ProviderKey(rc.ProviderID), newRequestEvent(req, rc, now))
	}
	return &CreateRequestResult{Request: req, Recipients: recipients}, nil
}

func (m *LifecycleManager) validateCreate(in CreateRequestInput) error {
	switch {
	case math.IsNaN(in.Origin.Lat) || in.Origin.Lat < -90 || in.Origin.Lat > 90:
		return fmt.Errorf("%w: latitude out of range", domain.ErrInvalidInput)
	case math.IsNaN(in.Origin.Lng) || in.Origin.Lng < -180 || in.Origin.Lng > 180:
		return fmt.Errorf("%w: longitude out of range", domain.ErrInvalidInput)
	case math.IsNaN(in.RadiusKm) || in.RadiusKm <= 0:
		return fmt.Errorf("%w: radius must be positive", domain.ErrInvalidInput)
	case m.maxRadiusKm > 0 && in.RadiusKm > m.maxRadiusKm:
		return fmt.Errorf("%w: radius exceeds %g km", domain.ErrInvalidInput, m.maxRadiusKm)
	case in.Payload.Quantity < 1:
		return fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	}
	return nil
}

// SubmitOfferInput is a provider's answer to a request.
type SubmitOfferInput struct {
	RequestID string
	Kind      domain.OfferKind
	Payload   domain.OfferPayload
}

// SubmitOffer records the provider's single answer and notifies the requester.
// When the answer is REJECTED and every notified provider has now rejected,
// the request is closed as REJECTED.
func (m *LifecycleManager) SubmitOffer(ctx context.Context, caller domain.Identity, in SubmitOfferInput) (*domain.ProviderOffer, error) {
	timer := prometheus.NewTimer(operationDurationHist.WithLabelValues("submit_offer"))
	defer timer.ObserveDuration()

	if caller.Role != domain.RoleProvider {
		return nil, domain.ErrNotAuthorized
	}
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown offer kind %q", domain.ErrInvalidInput, in.Kind)
	}

	req, err := m.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		offersSubmittedCounter.WithLabelValues(string(in.Kind), outcomeLabel(err)).Inc()
		return nil, err
	}
	if req.Status.Terminal() {
		offersSubmittedCounter.WithLabelValues(string(in.Kind), "request_closed").Inc()
		return nil, domain.ErrRequestClosed
	}

	offer := &domain.ProviderOffer{
		ID:           m.newID(),
		RequestID:    req.ID,
		ProviderID:   caller.ID,
		ProviderName: m.providerName(ctx, caller),
		Kind:         in.Kind,
		Payload:      in.Payload,
		CreatedAt:    m.now(),
	}
	if err := m.offers.Create(ctx, offer); err != nil {
		offersSubmittedCounter.WithLabelValues(string(in.Kind), outcomeLabel(err)).Inc()
		if !isDomainError(err) {
			m.logger.ErrorContext(ctx, "Failed to store offer", "request_id", req.ID, "provider_id", caller.ID, "error", err)
		}
		return nil, err
	}
	offersSubmittedCounter.WithLabelValues(string(in.Kind), "ok").Inc()
	m.logger.InfoContext(ctx, "Offer submitted", "request_id", req.ID, "offer_id", offer.ID, "provider_id", caller.ID, "kind", offer.Kind)

	deliverCtx := context.WithoutCancel(ctx)
	m.notifier.Deliver(deliverCtx, domain.RequesterKey(req.RequesterID), newOfferEvent(offer, offer.CreatedAt))

	if offer.Kind == domain.OfferRejected {
		m.closeIfAllRejected(deliverCtx, req)
	}
	return offer, nil
}

// closeIfAllRejected runs after the rejecting offer has been committed, so the
// last provider to reject always observes the complete set.
func (m *LifecycleManager) closeIfAllRejected(ctx context.Context, req *domain.ServiceRequest) {
	updated, ok, err := m.requests.CloseIfAllRejected(ctx, req.ID, m.now())
	switch {
	case err != nil:
		transitionsCounter.WithLabelValues(string(domain.StatusRejected), "error").Inc()
		m.logger.ErrorContext(ctx, "Rejection check failed", "request_id", req.ID, "error", err)
		return
	case !ok:
		return
	}
	transitionsCounter.WithLabelValues(string(domain.StatusRejected), "ok").Inc()

	recipients, err := m.requests.Recipients(ctx, req.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load recipients", "request_id", req.ID, "error", err)
	}
	m.logger.InfoContext(ctx, "Request rejected by every nearby provider", "request_id", req.ID, "declined", len(recipients))
	m.notifier.Deliver(ctx, domain.RequesterKey(updated.RequesterID), rejectedEvent(updated, len(recipients), updated.UpdatedAt))
}

// SelectResult identifies the winning offer.
type SelectResult struct {
	Request *domain.ServiceRequest
	Offer   *domain.ProviderOffer
}

// SelectOffer accepts one offer on behalf of the request owner. The winner is
// told it was selected, every other notified or responding provider is told
// the request is no longer available, and the requester gets a confirmation.
func (m *LifecycleManager) SelectOffer(ctx context.Context, caller domain.Identity, offerID string) (*SelectResult, error) {
	timer := prometheus.NewTimer(operationDurationHist.WithLabelValues("select_offer"))
	defer timer.ObserveDuration()

	if caller.Role != domain.RoleRequester {
		return nil, domain.ErrNotAuthorized
	}
	offer, err := m.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	req, err := m.requests.GetByID(ctx, offer.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != caller.ID {
		return nil, domain.ErrNotAuthorized
	}
	if !offer.Kind.Selectable() {
		return nil, domain.ErrInvalidOfferKind
	}

	updated, err := m.transition(ctx, req.ID, domain.StatusAccepted, offer.ProviderID)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "Offer selected", "request_id", updated.ID, "offer_id", offer.ID, "provider_id", offer.ProviderID)

	deliverCtx := context.WithoutCancel(ctx)
	at := updated.UpdatedAt
	m.notifier.Deliver(deliverCtx, domain.ProviderKey(offer.ProviderID), selectedForProviderEvent(updated, offer, at))
	for _, providerID := range m.involvedProviders(deliverCtx, updated.ID) {
		if providerID == offer.ProviderID {
			continue
		}
		m.notifier.Deliver(deliverCtx, domain.ProviderKey(providerID), unavailableEvent(updated, at))
	}
	m.notifier.Deliver(deliverCtx, domain.RequesterKey(updated.RequesterID), selectedForRequesterEvent(updated, offer, at))

	return &SelectResult{Request: updated, Offer: offer}, nil
}

// CancelRequest closes a PENDING request on behalf of its owner and tells every
// notified or responding provider.
func (m *LifecycleManager) CancelRequest(ctx context.Context, caller domain.Identity, requestID string) (*domain.ServiceRequest, error) {
	timer := prometheus.NewTimer(operationDurationHist.WithLabelValues("cancel_request"))
	defer timer.ObserveDuration()

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

	updated, err := m.transition(ctx, req.ID, domain.StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "Request cancelled", "request_id", updated.ID)

	deliverCtx := context.WithoutCancel(ctx)
	for _, providerID := range m.involvedProviders(deliverCtx, updated.ID) {
		m.notifier.Deliver(deliverCtx, domain.ProviderKey(providerID), cancelledEvent(updated, updated.UpdatedAt))
	}
	return updated, nil
}

func (m *LifecycleManager) transition(ctx context.Context, id string, to domain.RequestStatus, assigned string) (*domain.ServiceRequest, error) {
	updated, err := m.requests.TransitionFromPending(ctx, id, to, assigned, m.now())
	switch {
	case err == nil:
		transitionsCounter.WithLabelValues(string(to), "ok").Inc()
	case errors.Is(err, domain.ErrRequestClosed):
		transitionsCounter.WithLabelValues(string(to), "request_closed").Inc()
	default:
		transitionsCounter.WithLabelValues(string(to), "error").Inc()
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.ErrorContext(ctx, "Request transition failed", "request_id", id, "to", to, "error", err)
		}
	}
	return updated, err
}

// involvedProviders is the union of notified recipients and providers that
// answered, in recipient order followed by any extra offerers.
func (m *LifecycleManager) involvedProviders(ctx context.Context, requestID string) []string {
	seen := make(map[string]bool)
	var out []string

	recipients, err := m.requests.Recipients(ctx, requestID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load recipients", "request_id", requestID, "error", err)
	}
	for _, rc := range recipients {
		if !seen[rc.ProviderID] {
			seen[rc.ProviderID] = true
			out = append(out, rc.ProviderID)
		}
	}

	offers, err := m.offers.ListByRequest(ctx, requestID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load offers", "request_id", requestID, "error", err)
	}
	for _, o := range offers {
		if !seen[o.ProviderID] {
			seen[o.ProviderID] = true
			out = append(out, o.ProviderID)
		}
	}
	return out
}

func (m *LifecycleManager) providerName(ctx context.Context, caller domain.Identity) string {
	if caller.Name != "" {
		return caller.Name
	}
	p, err := m.providers.GetByID(ctx, caller.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "Failed to look up provider name", "provider_id", caller.ID, "error", err)
		}
		return ""
	}
	return p.Name
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrRequestClosed) ||
		errors.Is(err, domain.ErrDuplicateOffer)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRequestClosed):
		return "request_closed"
	case errors.Is(err, domain.ErrDuplicateOffer):
		return "duplicate"
	}
	return "error"
}
