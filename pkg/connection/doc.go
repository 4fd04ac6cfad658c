// Package connection reopens device sessions that were lost while the device
// stayed attached.
//
// A Manager wraps a ConnectFunc, which opens and connects a session. After a
// loss it retries on the schedule of its Backoff. Delays double from the
// initial one up to the cap; with the defaults that is 1s, 2s, 4s ... 32s,
// then 60s for every later attempt.
//
// The attempt budget belongs to the Backoff. When it runs out the manager
// gives up and the Backoff starts over, so a later loss of the same device
// gets the full budget and the short delays again. A successful reopen also
// starts over.
//
// # Jitter
//
// Several devices replugged at once should not hit the host together. Below
// the cap a delay is stretched by up to Jitter of itself; at the cap it is
// shortened by up to Jitter instead, so no delay exceeds Max.
package connection
