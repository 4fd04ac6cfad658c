// Package simdevice simulates a hardware signer for development and tests.
//
// A Device holds a BIP-32 master key derived from a mnemonic and answers the
// hw.App calls with real keys, addresses and signatures. Conditions the
// session has to cope with can be injected at any time:
//
//	Lock / Unlock        device asleep (hw.CodeDeviceAsleep)
//	CloseApp / OpenApp   signing application not open (hw.CodeAppNotOpen)
//	SetLatency           slow answers, for timeout races
//	Disconnect / Attach  cable pulled
//
// Provider maps device paths to Devices and implements hw.TransportProvider.
package simdevice
