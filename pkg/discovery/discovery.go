// Package discovery implements the discovery sources: tasks that produce
// Intents into a channel the coordinator owns, from on-chain log polling
// or off-chain push, guaranteeing at-least-once delivery.
package discovery

import (
	"context"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Source is a discovery task. Start blocks until ctx is cancelled or a
// fatal error occurs, pushing Intents onto the channel it was constructed
// with. Sources self-throttle (poll interval, push backpressure), and a
// Source must never block indefinitely trying to send without honoring
// ctx.
type Source interface {
	Name() string
	Start(ctx context.Context, intents chan<- solvertypes.Intent) error
}
