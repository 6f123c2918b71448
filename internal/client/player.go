package client

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VideoSync/internal/domain"
)

// Player is the video handle the session drives. Positions are seconds.
type Player interface {
	CurrentTime() float64
	SetCurrentTime(t float64)
	Play()
	Pause()
	Paused() bool
	PlaybackRate() float64
	SetPlaybackRate(r float64)
}

// Notifier is implemented by players that report their own state changes,
// programmatic ones included.
type Notifier interface {
	OnChange(func(domain.Action))
}

// VirtualPlayer is a clock-driven stand-in for a media element.
type VirtualPlayer struct {
	mu        sync.Mutex
	now       func() time.Time
	position  float64
	anchor    time.Time
	paused    bool
	rate      float64
	listeners []func(domain.Action)
}

func NewVirtualPlayer(now func() time.Time) *VirtualPlayer {
	if now == nil {
		now = time.Now
	}
	return &VirtualPlayer{now: now, anchor: now(), paused: true, rate: 1}
}

func (p *VirtualPlayer) OnChange(fn func(domain.Action)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *VirtualPlayer) emit(a domain.Action) {
	p.mu.Lock()
	ls := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, fn := range ls {
		fn(a)
	}
}

func (p *VirtualPlayer) currentLocked() float64 {
	if p.paused {
		return p.position
	}
	return p.position + p.now().Sub(p.anchor).Seconds()*p.rate
}

// rebaseLocked folds elapsed play time into position.
func (p *VirtualPlayer) rebaseLocked() {
	p.position = p.currentLocked()
	p.anchor = p.now()
}

func (p *VirtualPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *VirtualPlayer) SetCurrentTime(t float64) {
	if t < 0 {
		t = 0
	}
	p.mu.Lock()
	p.position = t
	p.anchor = p.now()
	p.mu.Unlock()
	p.emit(domain.ActionSeek)
}

func (p *VirtualPlayer) Play() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	p.anchor = p.now()
	p.paused = false
	p.mu.Unlock()
	p.emit(domain.ActionPlay)
}

func (p *VirtualPlayer) Pause() {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return
	}
	p.rebaseLocked()
	p.paused = true
	p.mu.Unlock()
	p.emit(domain.ActionPause)
}

func (p *VirtualPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *VirtualPlayer) PlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *VirtualPlayer) SetPlaybackRate(r float64) {
	if r <= 0 {
		return
	}
	p.mu.Lock()
	if r == p.rate {
		p.mu.Unlock()
		return
	}
	p.rebaseLocked()
	p.rate = r
	p.mu.Unlock()
	p.emit(domain.ActionRateChange)
}
