package core

// Loop serializes state mutation. Callbacks from other goroutines capture
// Epoch() when they are registered and Post with it; the loop discards
// closures whose epoch is no longer current.
type Loop interface {
	Epoch() uint64
	Post(epoch uint64, fn func())
}
