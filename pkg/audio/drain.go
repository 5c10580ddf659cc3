package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Synthesizers use it to release a provider's audio goroutine after an
// utterance was stopped part-way.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
