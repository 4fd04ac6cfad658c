// Package derivation defines the address derivation schemes a session can
// target and the deterministic expansion of an extended public key into an
// ordered address list.
//
// # Kinds
//
//	live      m/44'/60'/i'/0/0   one device call per index
//	legacy    m/44'/60'/0'/i     one device call, expanded on the host
//	standard  m/44'/60'/0'/0/i   one device call, expanded on the host
//
// Per-index kinds need a hardened step per account, so they cannot be
// expanded from a single public key. Bulk kinds share a non-hardened parent
// whose public key and chain code are enough to derive every child.
package derivation
