package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/push"
)

type capturingQueue struct {
	mu   sync.Mutex
	jobs []push.Job
}

func (q *capturingQueue) Enqueue(_ context.Context, job push.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Publish(ctx context.Context, recipient domain.RecipientKey, eventType domain.EventType, frame []byte) error {
	return m.Called(ctx, recipient, eventType, frame).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOfferEvent() domain.Event {
	return domain.Event{
		Type:      domain.EventNewOffer,
		RequestID: "r1",
		Data:      map[string]string{"offer_id": "o1"},
		Title:     "Offer Received",
		Body:      "Himal Pharmacy can fulfil your request",
	}
}

func TestRegistry(t *testing.T) {
	key := domain.ProviderKey("p1")

	t.Run("NewConnectionReplacesOld", func(t *testing.T) {
		reg := NewRegistry()
		first := NewClient(key, 4)
		second := NewClient(key, 4)

		assert.Nil(t, reg.Register(first))
		assert.Same(t, first, reg.Register(second))

		select {
		case <-first.Done():
		default:
			t.Fatal("replaced client should be closed")
		}
		got, ok := reg.Get(key)
		require.True(t, ok)
		assert.Same(t, second, got)
	})

	t.Run("StaleUnregisterKeepsSuccessor", func(t *testing.T) {
		reg := NewRegistry()
		first := NewClient(key, 4)
		second := NewClient(key, 4)
		reg.Register(first)
		reg.Register(second)

		assert.False(t, reg.Unregister(first))
		_, ok := reg.Get(key)
		assert.True(t, ok)

		assert.True(t, reg.Unregister(second))
		_, ok = reg.Get(key)
		assert.False(t, ok)
		assert.Zero(t, reg.Len())
	})

	t.Run("ClosedClientIsNotReturned", func(t *testing.T) {
		reg := NewRegistry()
		c := NewClient(key, 4)
		reg.Register(c)
		c.Close()

		_, ok := reg.Get(key)
		assert.False(t, ok)
	})
}

func TestClient_EnqueueOverflowCloses(t *testing.T) {
	c := NewClient(domain.RequesterKey("u1"), 2)

	assert.True(t, c.Enqueue([]byte("1")))
	assert.True(t, c.Enqueue([]byte("2")))
	assert.False(t, c.Enqueue([]byte("3")))
	assert.False(t, c.Enqueue([]byte("4")), "closed client accepts nothing")

	select {
	case <-c.Done():
	default:
		t.Fatal("overflowed client should be closed")
	}
}

func TestFanout_Deliver(t *testing.T) {
	ctx := context.Background()
	requester := domain.RequesterKey("u1")

	t.Run("LiveRecipientGetsFrameAndPush", func(t *testing.T) {
		reg := NewRegistry()
		q := &capturingQueue{}
		f := New(reg, nil, q, discardLogger())
		c := NewClient(requester, 4)
		reg.Register(c)

		f.Deliver(ctx, requester, newOfferEvent())

		var frame domain.Event
		require.NoError(t, json.Unmarshal(<-c.Send(), &frame))
		assert.Equal(t, domain.EventNewOffer, frame.Type)
		assert.Equal(t, "r1", frame.RequestID)
		assert.Equal(t, "o1", frame.Data["offer_id"])

		require.Len(t, q.jobs, 1)
		assert.Equal(t, requester, q.jobs[0].Recipient)
		assert.Equal(t, "Offer Received", q.jobs[0].Title)
		assert.Equal(t, "new_offer", q.jobs[0].Data["type"])
		assert.Equal(t, "r1", q.jobs[0].Data["request_id"])
	})

	t.Run("OfflineRecipientStillGetsPush", func(t *testing.T) {
		q := &capturingQueue{}
		f := New(NewRegistry(), nil, q, discardLogger())

		f.Deliver(ctx, requester, newOfferEvent())
		assert.Len(t, q.jobs, 1)
	})

	t.Run("OverflowDisconnectsWithoutBlocking", func(t *testing.T) {
		reg := NewRegistry()
		q := &capturingQueue{}
		f := New(reg, nil, q, discardLogger())
		c := NewClient(requester, 1)
		reg.Register(c)

		f.Deliver(ctx, requester, newOfferEvent())
		f.Deliver(ctx, requester, newOfferEvent())

		_, ok := reg.Get(requester)
		assert.False(t, ok, "overflowed client is removed from the registry")
		assert.Len(t, q.jobs, 2, "push is enqueued regardless")
	})

	t.Run("RelayFailureIsLoggedOnly", func(t *testing.T) {
		relay := &MockRelay{}
		q := &capturingQueue{}
		f := New(NewRegistry(), relay, q, discardLogger())
		relay.On("Publish", mock.Anything, requester, domain.EventNewOffer, mock.Anything).Return(errors.New("nats down")).Once()

		f.Deliver(ctx, requester, newOfferEvent())

		relay.AssertExpectations(t)
		assert.Len(t, q.jobs, 1)
	})
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, subject string, data []byte) error {
	return m.Called(ctx, subject, data).Error(0)
}

func (m *MockBroker) SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg *nats.Msg)) error {
	return m.Called(ctx, subject, queueGroup, handler).Error(0)
}

func TestNATSRelay(t *testing.T) {
	ctx := context.Background()
	key := domain.ProviderKey("p7")

	t.Run("PublishWrapsFrameWithOrigin", func(t *testing.T) {
		broker := &MockBroker{}
		relay := NewNATSRelay(broker, "node-a", discardLogger())

		broker.On("Publish", mock.Anything, LiveSubject, mock.MatchedBy(func(data []byte) bool {
			var env relayEnvelope
			return json.Unmarshal(data, &env) == nil && env.Origin == "node-a" && env.Recipient == key && string(env.Frame) == `{"x":1}`
		})).Return(nil).Once()

		require.NoError(t, relay.Publish(ctx, key, domain.EventNewRequest, []byte(`{"x":1}`)))
		broker.AssertExpectations(t)
	})

	t.Run("RunDeliversForeignFramesOnly", func(t *testing.T) {
		broker := &MockBroker{}
		relay := NewNATSRelay(broker, "node-a", discardLogger())

		var handler func(*nats.Msg)
		broker.On("SubscribeToSubjectWithQueue", mock.Anything, LiveSubject, "", mock.AnythingOfType("func(*nats.Msg)")).
			Run(func(args mock.Arguments) { handler = args.Get(3).(func(*nats.Msg)) }).
			Return(nil).Once()

		var delivered []string
		require.NoError(t, relay.Run(ctx, func(k domain.RecipientKey, _ domain.EventType, frame []byte) bool {
			delivered = append(delivered, string(k)+" "+string(frame))
			return true
		}))
		require.NotNil(t, handler)

		own, _ := json.Marshal(relayEnvelope{Origin: "node-a", Recipient: key, Frame: []byte(`{"own":true}`)})
		foreign, _ := json.Marshal(relayEnvelope{Origin: "node-b", Recipient: key, Frame: []byte(`{"own":false}`)})
		handler(&nats.Msg{Data: own})
		handler(&nats.Msg{Data: foreign})
		handler(&nats.Msg{Data: []byte("garbage")})

		assert.Equal(t, []string{`provider:p7 {"own":false}`}, delivered)
	})

	t.Run("RelayedFrameReachesLocalConnection", func(t *testing.T) {
		reg := NewRegistry()
		f := New(reg, nil, &capturingQueue{}, discardLogger())
		c := NewClient(key, 2)
		reg.Register(c)

		assert.True(t, f.DeliverLocal(key, domain.EventNewRequest, []byte(`{"type":"new_request"}`)))
		assert.Equal(t, `{"type":"new_request"}`, string(<-c.Send()))
	})
}
