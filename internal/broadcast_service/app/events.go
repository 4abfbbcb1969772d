package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func newRequestEvent(req *domain.ServiceRequest, rc domain.Recipient, at time.Time) domain.Event {
	who := req.RequesterName
	if who == "" {
		who = "A patient"
	}
	return domain.Event{
		Type:      domain.EventNewRequest,
		RequestID: req.ID,
		Data: map[string]string{
			"requester_name": req.RequesterName,
			"quantity":       strconv.Itoa(req.Payload.Quantity),
			"note":           req.Payload.Note,
			"image_ref":      req.Payload.ImageRef,
			"lat":            formatFloat(req.Origin.Lat),
			"lng":            formatFloat(req.Origin.Lng),
			"radius_km":      formatFloat(req.RadiusKm),
			"distance_km":    humanize.FtoaWithDigits(rc.DistanceKm, 2),
		},
		OccurredAt: at,
		Title:      "New Request",
		Body: fmt.Sprintf("%s needs %d item(s), %s km away", who, req.Payload.Quantity,
			humanize.FtoaWithDigits(rc.DistanceKm, 1)),
	}
}

func newOfferEvent(offer *domain.ProviderOffer, at time.Time) domain.Event {
	name := offer.ProviderName
	if name == "" {
		name = "A pharmacy"
	}
	title := "Offer Received"
	var body string
	switch offer.Kind {
	case domain.OfferSubstitute:
		body = name + " offered a substitute"
		if offer.Payload.SubstituteName != "" {
			body += ": " + offer.Payload.SubstituteName
		}
		if offer.Payload.SubstitutePrice != "" {
			body += " (Rs. " + offer.Payload.SubstitutePrice + ")"
		}
	case domain.OfferRejected:
		title = "Request Declined"
		body = fmt.Sprintf("%s cannot fulfil your request", name)
	default:
		body = fmt.Sprintf("%s can fulfil your request", name)
	}
	return domain.Event{
		Type:      domain.EventNewOffer,
		RequestID: offer.RequestID,
		Data: map[string]string{
			"offer_id":         offer.ID,
			"provider_id":      offer.ProviderID,
			"provider_name":    offer.ProviderName,
			"kind":             string(offer.Kind),
			"message":          offer.Payload.Message,
			"substitute_name":  offer.Payload.SubstituteName,
			"substitute_price": offer.Payload.SubstitutePrice,
			"audio_ref":        offer.Payload.AudioRef,
		},
		OccurredAt: at,
		Title:      title,
		Body:       body,
	}
}

func selectedForProviderEvent(req *domain.ServiceRequest, offer *domain.ProviderOffer, at time.Time) domain.Event {
	return domain.Event{
		Type:      domain.EventRequestSelected,
		RequestID: req.ID,
		Data: map[string]string{
			"offer_id":    offer.ID,
			"provider_id": offer.ProviderID,
			"status":      string(req.Status),
			"quantity":    strconv.Itoa(req.Payload.Quantity),
		},
		OccurredAt: at,
		Title:      "You were selected!",
		Body:       "Your offer was accepted. Please prepare the order.",
	}
}

func selectedForRequesterEvent(req *domain.ServiceRequest, offer *domain.ProviderOffer, at time.Time) domain.Event {
	name := offer.ProviderName
	if name == "" {
		name = "The pharmacy"
	}
	return domain.Event{
		Type:      domain.EventRequestSelected,
		RequestID: req.ID,
		Data: map[string]string{
			"offer_id":      offer.ID,
			"provider_id":   offer.ProviderID,
			"provider_name": offer.ProviderName,
			"status":        string(req.Status),
		},
		OccurredAt: at,
		Title:      "Offer Confirmed",
		Body:       fmt.Sprintf("%s will fulfil your request", name),
	}
}

func unavailableEvent(req *domain.ServiceRequest, at time.Time) domain.Event {
	return domain.Event{
		Type:       domain.EventRequestUnavailable,
		RequestID:  req.ID,
		Data:       map[string]string{"status": string(req.Status)},
		OccurredAt: at,
		Title:      "Request Filled",
		Body:       "Another pharmacy was selected for this request.",
	}
}

func cancelledEvent(req *domain.ServiceRequest, at time.Time) domain.Event {
	return domain.Event{
		Type:       domain.EventRequestCancelled,
		RequestID:  req.ID,
		Data:       map[string]string{"status": string(req.Status)},
		OccurredAt: at,
		Title:      "Request Cancelled",
		Body:       "The patient cancelled this request.",
	}
}

func rejectedEvent(req *domain.ServiceRequest, declined int, at time.Time) domain.Event {
	return domain.Event{
		Type:      domain.EventRequestRejected,
		RequestID: req.ID,
		Data: map[string]string{
			"status":   string(req.Status),
			"declined": strconv.Itoa(declined),
		},
		OccurredAt: at,
		Title:      "Request Rejected",
		Body:       fmt.Sprintf("All %s nearby pharmacies declined your request.", humanize.Comma(int64(declined))),
	}
}
