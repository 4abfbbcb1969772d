package domain

import (
	"context"
	"time"
)

// RequestRepository persists ServiceRequests and the recipient set cached at creation.
type RequestRepository interface {
	// CreateWithRecipients stores the request and its notified providers atomically.
	CreateWithRecipients(ctx context.Context, req *ServiceRequest, recipients []Recipient) error
	GetByID(ctx context.Context, id string) (*ServiceRequest, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]ServiceRequest, error)
	// ListPendingForProvider returns PENDING requests the provider was notified about, newest first.
	ListPendingForProvider(ctx context.Context, providerID string, limit int) ([]ServiceRequest, error)
	Recipients(ctx context.Context, requestID string) ([]Recipient, error)
	IsRecipient(ctx context.Context, requestID, providerID string) (bool, error)

	// TransitionFromPending is the compare-and-swap on status. It applies only
	// while the stored status is PENDING and returns the updated request.
	// assignedProviderID must be non-empty exactly when to is ACCEPTED.
	// Fails with ErrNotFound or ErrRequestClosed.
	TransitionFromPending(ctx context.Context, id string, to RequestStatus, assignedProviderID string, at time.Time) (*ServiceRequest, error)

	// CloseIfAllRejected moves a PENDING request to REJECTED when it has at least
	// one recipient, every recipient has a REJECTED offer, and no offer of any
	// other kind exists. The check and the write are one atomic step. ok is false
	// when the request was left untouched.
	CloseIfAllRejected(ctx context.Context, id string, at time.Time) (req *ServiceRequest, ok bool, err error)
}

// OfferRepository persists ProviderOffers.
type OfferRepository interface {
	// Create stores the offer only while its request is PENDING.
	// Fails with ErrNotFound, ErrRequestClosed or ErrDuplicateOffer.
	Create(ctx context.Context, offer *ProviderOffer) error
	GetByID(ctx context.Context, id string) (*ProviderOffer, error)
	ListByRequest(ctx context.Context, requestID string) ([]ProviderOffer, error)
	// StatsForProvider aggregates the provider's recipient rows and offers.
	StatsForProvider(ctx context.Context, providerID string) (ProviderStats, error)
}

// ProviderDirectory is the read side of the provider registry.
type ProviderDirectory interface {
	ListActive(ctx context.Context) ([]Provider, error)
	GetByID(ctx context.Context, id string) (*Provider, error)
	Upsert(ctx context.Context, p *Provider) error
}

// EndpointDirectory holds push endpoints per recipient.
type EndpointDirectory interface {
	ListActive(ctx context.Context, owner RecipientKey) ([]DeliveryEndpoint, error)
	// Register upserts by token, rebinding it to owner and reactivating it.
	Register(ctx context.Context, ep *DeliveryEndpoint) (*DeliveryEndpoint, error)
	// DeactivateToken is idempotent; unknown tokens are not an error.
	DeactivateToken(ctx context.Context, token string) error
	// Deactivate disables an endpoint owned by owner. Fails with ErrNotFound otherwise.
	Deactivate(ctx context.Context, owner RecipientKey, id string) error
}
