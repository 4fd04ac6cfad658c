// Package session implements the controller for one hardware signer.
//
// A Session owns the device transport and serializes every device call
// through a single request queue. Because the device has no status channel,
// its state is inferred from the codes of failed calls (see Classify) and
// from a liveness probe the session schedules itself:
//
//	OK      probe every 5s
//	LOCKED  probe every 500ms
//	other   no probe
//
// # Lifecycle
//
//	s, err := session.Open(ctx, "hid://0001", cfg)
//	s.OnEvent(func(e session.Event) { ... })
//	err = s.Connect(ctx)
//
// Connect reads the application configuration and probes the device outside
// the queue. On success it starts deriving addresses. A LOCKED device keeps
// the session open and polling for unlock; any other failure closes it.
//
// # Addresses
//
// Every DeriveAddresses call bumps an epoch. Results captured under an older
// epoch or derivation kind are discarded, so switching kinds while requests
// are in flight never mixes address lists.
//
// # Events
//
// Handlers registered with OnEvent run synchronously on the goroutine that
// caused the event, after the session lock is released. Handlers must not
// block on queue work.
package session
