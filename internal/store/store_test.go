package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/subgen-go/internal/model"
)

func sampleNodes() []model.Proxy {
	return []model.Proxy{
		model.SS{Base: model.Base{Name: "HK 01", Server: "1.2.3.4", Port: 8388}, Cipher: "aes-256-gcm", Password: "8388", UDP: true},
		model.VLESS{
			Base:        model.Base{Name: "US Home", Server: "us.example.com", Port: 443, ForceResidential: true},
			UUID:        "b831381d-6324-4d53-ad4f-8cda48b30811",
			Flow:        "xtls-rprx-vision",
			TLS:         true,
			RealityOpts: &model.RealityOptions{PublicKey: "KEY", ShortID: "ABC"},
		},
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	m := NewMemory(time.Hour)
	t.Cleanup(func() { _ = m.Close() })
	return map[string]Store{"memory": m, "bolt": b}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 32)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestNewRecord_DefaultTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecord(nil, Options{}, 0, now)
	assert.Equal(t, now.Add(24*time.Hour), r.ExpiresAt)
	assert.False(t, r.Expired(now))
	assert.True(t, r.Expired(r.ExpiresAt))
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	include := false
	opt := Options{GroupByCountry: true, SelectedRulesets: []string{"openai"}, IncludeBusinessGroups: &include}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRecord(sampleNodes(), opt, time.Hour, time.Now())
			require.NoError(t, s.Set(ctx, r))

			got, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.Equal(t, opt.SelectedRulesets, got.Options.SelectedRulesets)
			require.NotNil(t, got.Options.IncludeBusinessGroups)
			assert.False(t, *got.Options.IncludeBusinessGroups)
			assert.WithinDuration(t, r.ExpiresAt, got.ExpiresAt, time.Second)

			require.Len(t, got.Nodes, 2)
			ss, ok := got.Nodes[0].(model.SS)
			require.True(t, ok, "%T", got.Nodes[0])
			assert.Equal(t, "8388", ss.Password)
			assert.True(t, ss.UDP)

			vl, ok := got.Nodes[1].(model.VLESS)
			require.True(t, ok, "%T", got.Nodes[1])
			assert.True(t, vl.ForceResidential)
			require.NotNil(t, vl.RealityOpts)
			assert.Equal(t, "KEY", vl.RealityOpts.PublicKey)

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{r.ID}, ids)

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Count)

			found, err := s.Delete(ctx, r.ID)
			require.NoError(t, err)
			assert.True(t, found)
			found, err = s.Delete(ctx, r.ID)
			require.NoError(t, err)
			assert.False(t, found)

			_, err = s.Get(ctx, r.ID)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_Expired(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRecord(sampleNodes(), Options{}, time.Minute, time.Now())
			require.NoError(t, s.Set(ctx, r))

			later := func() time.Time { return r.ExpiresAt.Add(time.Second) }
			switch v := s.(type) {
			case *Memory:
				v.now = later
			case *Bolt:
				v.now = later
			}
			_, err := s.Get(ctx, r.ID)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestBolt_Sweep(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer b.Close()

	now := time.Now()
	old := NewRecord(sampleNodes(), Options{}, time.Minute, now.Add(-time.Hour))
	fresh := NewRecord(sampleNodes(), Options{}, time.Hour, now)
	require.NoError(t, b.Set(ctx, old))
	require.NoError(t, b.Set(ctx, fresh))

	n, err := b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids)
}

func TestBolt_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)
	r := NewRecord(sampleNodes(), Options{}, time.Hour, time.Now())
	require.NoError(t, b.Set(ctx, r))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok)

	_, err = Open(Config{Driver: "bolt"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "redis"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis"))
}
