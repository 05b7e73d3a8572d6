package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/livechat-overlay/internal/app/countdown"
	"github.com/osa030/livechat-overlay/internal/app/notification"
	"github.com/osa030/livechat-overlay/internal/domain/media"
)

// consoleRenderer prints play instructions instead of drawing them.
type consoleRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	settings media.Settings
	shown    string
}

func newConsoleRenderer(out io.Writer) *consoleRenderer {
	return &consoleRenderer{out: out, settings: media.DefaultSettings()}
}

func (r *consoleRenderer) Render(instr media.PlayInstruction, settings media.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = settings
	r.shown = ""

	var parts []string
	if instr.Media != nil {
		switch instr.Media.Kind {
		case media.KindImage, media.KindAudio, media.KindVideo:
		default:
			return errors.Newf("unsupported media kind %q", instr.Media.Kind)
		}
		if strings.TrimSpace(instr.Media.URL) == "" {
			return errors.New("media url is empty")
		}
		parts = append(parts, fmt.Sprintf("%s %s", instr.Media.Kind, instr.Media.URL))
	}
	if instr.TweetCard.HasContent() {
		parts = append(parts, "tweet card")
	}
	if instr.Author != nil && instr.Author.Enabled && strings.TrimSpace(instr.Author.Name) != "" {
		parts = append(parts, "by "+strings.TrimSpace(instr.Author.Name))
	}
	if settings.ShowText && instr.Text != nil && instr.Text.Enabled && strings.TrimSpace(instr.Text.Value) != "" {
		parts = append(parts, fmt.Sprintf("%q", strings.TrimSpace(instr.Text.Value)))
	}
	if len(parts) == 0 {
		parts = append(parts, "(empty)")
	}

	fmt.Fprintf(r.out, "> play %s: %s\n", instr.ReportJobID(), strings.Join(parts, " "))
	return nil
}

func (r *consoleRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = ""
	fmt.Fprintln(r.out, "> cleared")
}

func (r *consoleRenderer) ApplySettings(settings media.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	fmt.Fprintf(r.out, "> settings: volume=%.2f gain=%.3f show_text=%t\n",
		settings.Volume, settings.PerceptualGain(), settings.ShowText)
}

func (r *consoleRenderer) ShowRemaining(remainingMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := countdown.FormatRemaining(remainingMs)
	if text == r.shown {
		return
	}
	r.shown = text
	fmt.Fprintf(r.out, "> %s\n", text)
}

// newStatusPrinter prints connection status notifications.
func newStatusPrinter(out io.Writer) notification.Stream {
	return notification.StreamFunc(func(n *notification.Notification) error {
		_, err := fmt.Fprintf(out, "[%d] %s\n", n.SequenceNo, n.Tooltip)
		return err
	})
}
