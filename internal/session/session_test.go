package session

import (
	"context"
	"testing"
	"time"

	"tz-rubeho/internal/annotate"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() annotate.Session {
	s := annotate.NewSession()
	s = annotate.Reduce(s, annotate.SetMode{Mode: annotate.ModeControl})
	return annotate.Reduce(s, annotate.Add{Lat: -6.8, Lon: 37.5, At: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)})
}

func exerciseStore(t *testing.T, st Store) {
	ctx := context.Background()
	id := NewID()

	s, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, annotate.StateIdle, s.State())
	assert.Equal(t, annotate.ModeTreatment, s.Mode)

	want := sample()
	require.NoError(t, st.Save(ctx, id, want))
	got, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Mode, got.Mode)
	assert.Equal(t, want.Annotations, got.Annotations)

	other, err := st.Load(ctx, NewID())
	require.NoError(t, err)
	assert.Empty(t, other.Annotations)

	require.NoError(t, st.Delete(ctx, id))
	gone, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, gone.Annotations)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Hour)
	s := sample()
	require.NoError(t, st.Save(ctx, "a", s))
	s.Annotations[0].Latitude = 99

	got, err := st.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, -6.8, got.Annotations[0].Latitude)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	require.NoError(t, st.Save(ctx, "old", sample()))
	now = now.Add(2 * time.Minute)
	require.NoError(t, st.Save(ctx, "new", sample()))
	assert.Equal(t, 1, st.Len())

	got, err := st.Load(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, got.Annotations)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	exerciseStore(t, NewRedisStore(rc, time.Hour))
}

func TestRedisStoreKeyAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	st := NewRedisStore(rc, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "abc", sample()))
	assert.True(t, mr.Exists(KeyPrefix+"abc"))
	assert.Equal(t, 30*time.Minute, mr.TTL(KeyPrefix+"abc"))

	mr.FastForward(31 * time.Minute)
	got, err := st.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, got.Annotations)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, mr.Set(KeyPrefix+"bad", "{not json"))

	got, err := NewRedisStore(rc, 0).Load(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, annotate.StateIdle, got.State())
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID("annotate:session:x"))
	assert.False(t, ValidID(""))
}
