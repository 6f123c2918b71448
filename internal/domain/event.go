package domain

import "time"

type Action string

const (
	ActionPlay       Action = "PLAY"
	ActionPause      Action = "PAUSE"
	ActionSeek       Action = "SEEK"
	ActionRateChange Action = "RATE_CHANGE"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionRateChange:
		return true
	}
	return false
}

// PlaybackEvent is relayed, never stored. Timestamp is the sender's clock in
// unix milliseconds at creation.
type PlaybackEvent struct {
	Action       Action  `json:"action"`
	CurrentTime  float64 `json:"currentTime"`
	PlaybackRate float64 `json:"playbackRate,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	UserID       string  `json:"userId,omitempty"`
}

// Delay is the transit time of e as observed at now.
func (e PlaybackEvent) Delay(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Timestamp))
}

// PlaybackState is a point-in-time report used for drift correction.
type PlaybackState struct {
	TargetUserID string  `json:"targetUserId,omitempty"`
	RequesterID  string  `json:"requesterId,omitempty"`
	CurrentTime  float64 `json:"currentTime"`
	Paused       bool    `json:"paused"`
	PlaybackRate float64 `json:"playbackRate,omitempty"`
	Timestamp    int64   `json:"timestamp"`
}
