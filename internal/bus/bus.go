// Package bus provides best-effort asynchronous messaging between execution
// contexts. Delivery to a context that is not currently attached is silently
// dropped; callers that need stronger guarantees go through the durable store
// instead of assuming reliable transport.
package bus

import "github.com/thebtf/snapcase/pkg/models"

// Bus is the messaging contract shared by the in-process router and the
// redis transport.
type Bus interface {
	// Attach registers a named context and returns its inbound channel plus a
	// detach function. Attaching a name that is already attached replaces the
	// previous registration.
	Attach(name string, buffer int) (<-chan models.Envelope, func())

	// Send delivers point-to-point and returns the number of receivers.
	// Zero receivers is not an error.
	Send(to string, env models.Envelope) int

	// Broadcast delivers to every attached context except the sender and
	// returns the number of receivers.
	Broadcast(env models.Envelope) int

	// Close detaches everything.
	Close() error
}
