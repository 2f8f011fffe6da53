package settings

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"qms/clinic-console/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	settingsFn func(ctx context.Context) (models.ClinicSettings, error)
}

func (f fakeSource) ClinicSettings(ctx context.Context) (models.ClinicSettings, error) {
	return f.settingsFn(ctx)
}

func staticSource(settings models.ClinicSettings) fakeSource {
	return fakeSource{settingsFn: func(ctx context.Context) (models.ClinicSettings, error) {
		return settings, nil
	}}
}

func TestNotificationAllowed(t *testing.T) {
	cases := []struct {
		name string
		n    Notification
		want bool
	}{
		{"enabled and granted", Notification{Enabled: true, Permission: PermissionGranted}, true},
		{"enabled but default", Notification{Enabled: true, Permission: PermissionDefault}, false},
		{"enabled but denied", Notification{Enabled: true, Permission: PermissionDenied}, false},
		{"granted but disabled", Notification{Permission: PermissionGranted}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.n.Allowed())
		})
	}
}

func TestParsePermission(t *testing.T) {
	got, err := ParsePermission(" Granted ")
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, got)

	got, err = ParsePermission("")
	require.NoError(t, err)
	assert.Equal(t, PermissionDefault, got)

	_, err = ParsePermission("maybe")
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestStreamWithoutCacheEmitsFreshOnly(t *testing.T) {
	cache := NewMemoryCache()
	provider := NewProvider(staticSource(models.ClinicSettings{ClinicName: "Klinik Sehat"}), cache, time.Minute, zerolog.Nop())

	stale, fresh := Collect(provider.Stream(context.Background()))
	assert.Nil(t, stale)
	require.NotNil(t, fresh)
	require.NoError(t, fresh.Err)
	assert.Equal(t, "Klinik Sehat", fresh.Settings.ClinicName)

	_, err := cache.Get(context.Background(), clinicSettingsKey)
	assert.NoError(t, err, "fresh value is written back")
}

func TestStreamEmitsStaleThenFresh(t *testing.T) {
	cache := NewMemoryCache()
	first := NewProvider(staticSource(models.ClinicSettings{ClinicName: "Lama"}), cache, time.Minute, zerolog.Nop())
	Collect(first.Stream(context.Background()))

	second := NewProvider(staticSource(models.ClinicSettings{ClinicName: "Baru"}), cache, time.Minute, zerolog.Nop())
	var stages []Stage
	var names []string
	for snapshot := range second.Stream(context.Background()) {
		stages = append(stages, snapshot.Stage)
		names = append(names, snapshot.Settings.ClinicName)
	}
	assert.Equal(t, []Stage{StageStale, StageFresh}, stages)
	assert.Equal(t, []string{"Lama", "Baru"}, names)
}

func TestStreamFreshErrorKeepsStale(t *testing.T) {
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(context.Background(), clinicSettingsKey, []byte(`{"clinic_name":"Cached"}`), 0))
	boom := errors.New("backend down")
	provider := NewProvider(fakeSource{settingsFn: func(ctx context.Context) (models.ClinicSettings, error) {
		return models.ClinicSettings{}, boom
	}}, cache, time.Minute, zerolog.Nop())

	stale, fresh := Collect(provider.Stream(context.Background()))
	require.NotNil(t, stale)
	assert.Equal(t, "Cached", stale.Settings.ClinicName)
	require.NotNil(t, fresh)
	assert.ErrorIs(t, fresh.Err, boom)

	raw, err := cache.Get(context.Background(), clinicSettingsKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"clinic_name":"Cached"}`, string(raw))
}

func TestStreamIgnoresCorruptCache(t *testing.T) {
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(context.Background(), clinicSettingsKey, []byte("not json"), 0))
	provider := NewProvider(staticSource(models.ClinicSettings{ClinicName: "Baru"}), cache, time.Minute, zerolog.Nop())

	stale, fresh := Collect(provider.Stream(context.Background()))
	assert.Nil(t, stale)
	require.NotNil(t, fresh)
	assert.Equal(t, "Baru", fresh.Settings.ClinicName)
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(context.Background(), "k", []byte("v"), time.Minute))
	got, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	prefix := "clinic-console-test:" + time.Now().Format("150405.000000") + ":"
	cache := NewRedisCache(client, prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), prefix+"k")
	})

	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
