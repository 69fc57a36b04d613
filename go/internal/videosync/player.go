package videosync

// Player is the local media player a session drives.
type Player interface {
	// CurrentPosition returns the playback position in seconds.
	CurrentPosition() float64
	// Seek moves to position and calls done once the seek settles.
	Seek(position float64, done func(finished bool))
	Play()
	Pause()
	// OnPlayStateChanged registers fn for play/pause transitions, at most
	// once per actual transition. The returned func unregisters it.
	OnPlayStateChanged(fn func(isPlaying bool)) (cancel func())
}
