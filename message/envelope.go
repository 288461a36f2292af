package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Envelope carries a payload across a transport with the metadata a broker
// or log needs. The engine never inspects envelope fields; unwrap before
// feeding commands in.
type Envelope[M any] struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Source        string    `json:"source,omitempty"`
	ContentType   string    `json:"contentType,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       M         `json:"payload"`
}

// EnvelopeOption customizes Wrap.
type EnvelopeOption func(*envelopeOptions)

type envelopeOptions struct {
	correlationID string
	causationID   string
	source        string
	contentType   string
	now           func() time.Time
}

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) EnvelopeOption {
	return func(o *envelopeOptions) { o.correlationID = id }
}

// WithCausationID sets the id of the message that caused this one.
func WithCausationID(id string) EnvelopeOption {
	return func(o *envelopeOptions) { o.causationID = id }
}

// WithSource names the producer.
func WithSource(source string) EnvelopeOption {
	return func(o *envelopeOptions) { o.source = source }
}

// WithContentType records how the payload is encoded on the wire.
func WithContentType(contentType string) EnvelopeOption {
	return func(o *envelopeOptions) { o.contentType = contentType }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EnvelopeOption {
	return func(o *envelopeOptions) { o.now = now }
}

// Wrap puts payload in a new envelope with a random id.
func Wrap[M any](payload M, opts ...EnvelopeOption) Envelope[M] {
	o := envelopeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return Envelope[M]{
		ID:            uuid.New(),
		CorrelationID: o.correlationID,
		CausationID:   o.causationID,
		Source:        o.source,
		ContentType:   o.contentType,
		Timestamp:     o.now().UTC(),
		Payload:       payload,
	}
}

// Unwrap returns the payload.
func (e Envelope[M]) Unwrap() M {
	return e.Payload
}

// Caused returns an envelope for payload that continues e's correlation and
// names e as its cause.
func Caused[M, N any](e Envelope[M], payload N, opts ...EnvelopeOption) Envelope[N] {
	correlation := e.CorrelationID
	if correlation == "" {
		correlation = e.ID.String()
	}

	base := []EnvelopeOption{WithCorrelationID(correlation), WithCausationID(e.ID.String())}

	return Wrap(payload, append(base, opts...)...)
}

// Unwrap turns a stream of envelopes into a stream of commands. The output
// closes when in closes or ctx is done.
func Unwrap[M Command](ctx context.Context, in <-chan Envelope[M]) <-chan Command {
	out := make(chan Command)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-in:
				if !ok {
					return
				}

				select {
				case out <- env.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Stream turns a fixed list of commands into a closed channel, handy for
// feeding the engine from code that already holds the batch.
func Stream(commands ...Command) <-chan Command {
	out := make(chan Command, len(commands))
	for _, cmd := range commands {
		out <- cmd
	}

	close(out)

	return out
}
