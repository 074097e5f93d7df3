// Package resource implements the per-resource disk cache: deterministic
// retrieve/store/use decision policies, staged entries, and a Cache that
// persists records under a storage root through that root's serial I/O
// queue. Decisions are pure functions evaluated first-match-wins so every
// negative outcome carries a distinct, testable reason. The Cache owns
// capacity accounting and trims least-recently-used records in the
// background when the budget shrinks below current usage.
package resource
