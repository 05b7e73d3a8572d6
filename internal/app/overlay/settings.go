package overlay

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/domain/media"
	"github.com/osa030/livechat-overlay/internal/infra/config"
)

// ApplySettings merges a partial {volume, showText} patch into the current
// settings. Keys absent from the patch keep their value.
func (r *Runtime) ApplySettings(patch map[string]any) {
	r.post(func() {
		next, err := mergeSettings(r.settings, patch)
		if err != nil {
			zlog.Warn().Msgf("overlay: ignoring settings patch: err=%v", err)
			return
		}
		if next == r.settings {
			return
		}
		r.settings = next
		r.renderer.ApplySettings(next)
		r.persist(func(c *config.Config) { c.SetSettings(next) })
		zlog.Info().Msgf("overlay: settings applied: volume=%.2f show_text=%t", next.Volume, next.ShowText)
	})
}

// Settings returns the current settings. Must be called on the executor.
func (r *Runtime) Settings() media.Settings {
	return r.settings
}

func mergeSettings(current media.Settings, patch map[string]any) (media.Settings, error) {
	next := current
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &next,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return current, errors.Wrap(err, "failed to create settings decoder")
	}
	if err := decoder.Decode(patch); err != nil {
		return current, errors.Wrap(err, "failed to decode settings")
	}
	if math.IsNaN(next.Volume) || math.IsInf(next.Volume, 0) {
		return current, errors.New("volume must be a finite number")
	}
	next.Volume = math.Min(1, math.Max(0, next.Volume))
	return next, nil
}
