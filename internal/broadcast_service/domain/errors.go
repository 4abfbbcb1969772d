package domain

import "errors"

var (
	// ErrNotFound indicates that a request, offer, provider or endpoint does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrRequestClosed indicates that the request has left PENDING and accepts no further changes.
	ErrRequestClosed = errors.New("request is closed")
	// ErrDuplicateOffer indicates that the provider already responded to this request.
	ErrDuplicateOffer = errors.New("provider already responded to this request")
	// ErrNotAuthorized indicates that the caller does not own the resource or has the wrong role.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidOfferKind indicates an attempt to select a REJECTED offer.
	ErrInvalidOfferKind = errors.New("offer kind cannot be selected")
	// ErrInvalidInput indicates malformed input that passed transport validation.
	ErrInvalidInput = errors.New("invalid input")
)
