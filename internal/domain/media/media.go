// Package media provides the play instruction domain entities.
package media

import (
	"math"
	"strings"
	"time"
)

// Kind represents the kind of a standalone media item.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// UnknownJobID is reported when a failing play instruction carried no job id.
const UnknownJobID = "unknown-job"

// Media represents a standalone media item to display.
type Media struct {
	Kind Kind   `json:"kind"`
	URL  string `json:"url"`
}

// IsPlayable returns true if the media has its own playback timeline.
func (m *Media) IsPlayable() bool {
	return m != nil && m.Kind != KindImage
}

// Text represents the caption displayed with the media.
type Text struct {
	Enabled bool   `json:"enabled"`
	Value   string `json:"value"`
}

// Author represents the member who sent the media.
type Author struct {
	Enabled bool    `json:"enabled"`
	Name    string  `json:"name"`
	Image   *string `json:"image,omitempty"`
}

// InlineVideo represents a video embedded in a tweet card.
type InlineVideo struct {
	URL            string   `json:"url"`
	IsVertical     *bool    `json:"isVertical,omitempty"`
	SourceStatusID *string  `json:"sourceStatusId,omitempty"`
	DurationSec    *float64 `json:"durationSec,omitempty"`
}

// TweetCard represents an embedded tweet.
type TweetCard struct {
	HTML            string        `json:"html"`
	Videos          []InlineVideo `json:"videos,omitempty"`
	VideoURL        string        `json:"videoUrl,omitempty"`
	CurrentStatusID string        `json:"currentStatusId,omitempty"`
}

// HasContent returns true if the card carries renderable HTML.
func (c *TweetCard) HasContent() bool {
	return c != nil && strings.TrimSpace(c.HTML) != ""
}

// PlayInstruction represents one "play" instruction pushed by the server.
type PlayInstruction struct {
	JobID       string     `json:"jobId"`
	DurationSec *float64   `json:"durationSec,omitempty"`
	Media       *Media     `json:"media,omitempty"`
	Text        *Text      `json:"text,omitempty"`
	Author      *Author    `json:"author,omitempty"`
	TweetCard   *TweetCard `json:"tweetCard,omitempty"`
}

// NormalizedJobID returns the trimmed job id (empty if missing).
func (p *PlayInstruction) NormalizedJobID() string {
	return strings.TrimSpace(p.JobID)
}

// ReportJobID returns the job id used when reporting a failure.
func (p *PlayInstruction) ReportJobID() string {
	if id := p.NormalizedJobID(); id != "" {
		return id
	}
	return UnknownJobID
}

// Duration returns the display duration.
// Returns false if no finite positive duration is set.
func (p *PlayInstruction) Duration() (float64, bool) {
	if p.DurationSec == nil {
		return 0, false
	}
	d := *p.DurationSec
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, false
	}
	return d, true
}

// AutoClearByTimer returns true if the countdown alone should clear the overlay.
// Playable standalone media is cleared by its own "ended" event instead.
func (p *PlayInstruction) AutoClearByTimer() bool {
	return p.Media == nil || p.Media.Kind == KindImage
}

// SecondsToDuration converts a duration in seconds to time.Duration.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
