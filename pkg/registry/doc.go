// Package registry tracks signer sessions by device path.
//
// The registry is the layer that reacts to device attach and detach
// notifications. Each attached device gets one session at a time; when a
// session closes because the signing application went away or the transport
// failed, and the device is still attached, the registry opens a fresh
// session after an exponential backoff.
//
// Events from every session are relayed to a single Listener.
package registry
