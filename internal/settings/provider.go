package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"qms/clinic-console/internal/models"

	"github.com/rs/zerolog"
)

const clinicSettingsKey = "clinic_settings"

type Stage string

const (
	StageStale Stage = "stale"
	StageFresh Stage = "fresh"
)

// Snapshot is one value on a settings stream. A stale snapshot is the last
// cached value and may be outdated; a fresh one came from the backend during
// this read. Err is only ever set on the fresh stage.
type Snapshot struct {
	Stage    Stage                 `json:"stage"`
	Settings models.ClinicSettings `json:"settings"`
	Err      error                 `json:"-"`
}

type Source interface {
	ClinicSettings(ctx context.Context) (models.ClinicSettings, error)
}

type Provider struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewProvider(source Source, cache Cache, ttl time.Duration, logger zerolog.Logger) *Provider {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Provider{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Stream emits at most one stale snapshot followed by exactly one fresh
// snapshot, then closes. If ctx is cancelled the stream closes early.
func (p *Provider) Stream(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot, 2)
	go func() {
		defer close(out)
		if cached, ok := p.cached(ctx); ok {
			if !emit(ctx, out, Snapshot{Stage: StageStale, Settings: cached}) {
				return
			}
		}
		fresh, err := p.source.ClinicSettings(ctx)
		if err != nil {
			emit(ctx, out, Snapshot{Stage: StageFresh, Err: err})
			return
		}
		p.store(ctx, fresh)
		emit(ctx, out, Snapshot{Stage: StageFresh, Settings: fresh})
	}()
	return out
}

// Collect drains a stream into its two stages. stale is nil when nothing was
// cached.
func Collect(stream <-chan Snapshot) (stale *Snapshot, fresh *Snapshot) {
	for snapshot := range stream {
		snapshot := snapshot
		switch snapshot.Stage {
		case StageStale:
			stale = &snapshot
		case StageFresh:
			fresh = &snapshot
		}
	}
	return stale, fresh
}

func (p *Provider) cached(ctx context.Context) (models.ClinicSettings, bool) {
	raw, err := p.cache.Get(ctx, clinicSettingsKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			p.logger.Warn().Err(err).Msg("settings cache read failed")
		}
		return models.ClinicSettings{}, false
	}
	var settings models.ClinicSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		p.logger.Warn().Err(err).Msg("discarding undecodable cached settings")
		return models.ClinicSettings{}, false
	}
	return settings, true
}

func (p *Provider) store(ctx context.Context, settings models.ClinicSettings) {
	raw, err := json.Marshal(settings)
	if err != nil {
		p.logger.Warn().Err(err).Msg("settings encode failed")
		return
	}
	if err := p.cache.Set(ctx, clinicSettingsKey, raw, p.ttl); err != nil {
		p.logger.Warn().Err(err).Msg("settings cache write failed")
	}
}

func emit(ctx context.Context, out chan<- Snapshot, snapshot Snapshot) bool {
	select {
	case out <- snapshot:
		return true
	case <-ctx.Done():
		return false
	}
}
