package player

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/radio-alarm/internal/playlist"
)

// Fake is an in-memory player for tests. It records every call and can be
// told to fail starts, reject volumes or report a dead child.
type Fake struct {
	mu       sync.Mutex
	state    State
	url      string
	spawns   int
	stops    int
	volume   int
	started  time.Time
	health   error
	startErr error
	volErr   error
	info     StreamInfo
	exits    chan struct{}
}

// NewFake returns a stopped Fake.
func NewFake() *Fake {
	return &Fake{exits: make(chan struct{}, 1)}
}

func (f *Fake) Exits() <-chan struct{} { return f.exits }

// Start records a spawn unless st is already playing.
func (f *Fake) Start(_ context.Context, st playlist.Station) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = Stopped
		return &PlaybackFailure{URL: st.URL, Err: f.startErr}
	}
	if f.state == Playing && f.url == st.URL {
		return nil
	}
	f.state = Playing
	f.url = st.URL
	f.spawns++
	f.started = time.Now()
	f.health = nil
	f.info = StreamInfo{StreamURL: st.URL, UpdatedAt: f.started}
	return nil
}

func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Stopped
	f.url = ""
	f.stops++
}

func (f *Fake) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Playing {
		f.state = Paused
	}
	return nil
}

func (f *Fake) Resume(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = Stopped
		return &PlaybackFailure{URL: f.url, Err: f.startErr}
	}
	if f.state == Paused {
		f.state = Playing
	}
	return nil
}

func (f *Fake) SetVolume(_ context.Context, percent int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	percent = Clamp(percent)
	if f.volErr != nil {
		return percent, f.volErr
	}
	f.volume = percent
	return percent, nil
}

// Health reports a pending failure once, like Controller.Health.
func (f *Fake) Health() Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := Health{State: f.state, Running: f.state == Playing}
	if h.Running {
		h.Uptime = time.Since(f.started)
	}
	if f.health != nil {
		h.Err = &PlaybackFailure{URL: f.url, Err: f.health}
		h.Running = false
		f.health = nil
	}
	return h
}

func (f *Fake) Info() StreamInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

// Kill simulates the child dying with err while playing.
func (f *Fake) Kill(err error) {
	f.mu.Lock()
	f.state = Stopped
	f.health = err
	f.mu.Unlock()
	select {
	case f.exits <- struct{}{}:
	default:
	}
}

// SetStartError makes subsequent starts and resumes fail with err.
func (f *Fake) SetStartError(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// SetVolumeError makes subsequent volume changes fail with err.
func (f *Fake) SetVolumeError(err error) {
	f.mu.Lock()
	f.volErr = err
	f.mu.Unlock()
}

// SetTitle updates the stream title as if the player printed one.
func (f *Fake) SetTitle(title string) {
	f.mu.Lock()
	f.info.Title = title
	f.mu.Unlock()
}

func (f *Fake) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *Fake) Spawns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *Fake) Volume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}
