// Package hw defines the boundary between the session controller and the
// hardware signer.
//
// The session never talks to USB/HID directly. It consumes three
// collaborators:
//   - TransportProvider opens a Transport for a device path
//   - App is the signing application SDK bound to an open Transport
//   - a Code carried by *DeviceError on every failed App call
//
// # Status Codes
//
// Devices report failures as 16-bit status words. The session infers device
// state (asleep, wrong application, gone) purely from these codes. Three
// negative codes are synthetic and never produced by a device:
//
//	CodeTimeout          a guard timer won the race against the device
//	CodeAddressMismatch  on-device address differs from the expected one
//	CodeTransportBusy    legacy busy signal, kept for classification only
package hw
