// Package messaging implements the control protocol between client pages and
// the gateway: forced activation, ingredient list caching and cache size
// queries.
package messaging

import (
	"context"
	"encoding/json"

	"github.com/menubuilder/offline-gateway/internal/errors"
)

// Kind is a message type. The set is closed.
type Kind string

const (
	KindSkipWaiting      Kind = "SKIP_WAITING"
	KindCacheIngredients Kind = "CACHE_INGREDIENTS"
	KindGetCacheSize     Kind = "GET_CACHE_SIZE"
)

// ErrUnknownKind is returned for message types outside the known set.
var ErrUnknownKind = errors.NewStd("unknown message type")

// ParseKind validates a message type.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSkipWaiting, KindCacheIngredients, KindGetCacheSize:
		return k, nil
	default:
		return "", errors.New(ErrUnknownKind).
			Component("messaging").
			Category(errors.CategoryValidation).
			Context("type", s).
			Build()
	}
}

// Message is a client-to-gateway message.
type Message struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Reply asks the HTTP transport to use the response as the reply port.
	Reply bool `json:"reply,omitempty"`
}

// Reply is a gateway-to-client answer.
type Reply struct {
	Type  Kind   `json:"type"`
	Size  *int64 `json:"size,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReplyPort delivers a reply to the sender of a message.
type ReplyPort interface {
	Send(ctx context.Context, reply Reply) error
}

// ReplyFunc adapts a function to ReplyPort.
type ReplyFunc func(ctx context.Context, reply Reply) error

// Send calls f.
func (f ReplyFunc) Send(ctx context.Context, reply Reply) error {
	return f(ctx, reply)
}
