package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundtrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "k1", testValue{Name: "alpha", Count: 3}))

	var got testValue
	require.NoError(t, st.Get(ctx, "k1", &got))
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestPutReplacesExisting(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "k1", testValue{Name: "first"}))
	require.NoError(t, st.Put(ctx, "k1", testValue{Name: "second"}))

	var got testValue
	require.NoError(t, st.Get(ctx, "k1", &got))
	assert.Equal(t, "second", got.Name)
}

func TestGetMissingKey(t *testing.T) {
	st := testStore(t)

	var got testValue
	err := st.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "k1", testValue{Name: "x"}))
	require.NoError(t, st.Delete(ctx, "k1"))
	require.NoError(t, st.Delete(ctx, "k1"))

	var got testValue
	assert.ErrorIs(t, st.Get(ctx, "k1", &got), ErrNotFound)
}

func TestListPrefixNewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Put(ctx, fmt.Sprintf("pending_region_%d", i), testValue{Count: i}))
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, st.Put(ctx, "pending_video_0", testValue{Count: 99}))

	entries, err := st.ListPrefix(ctx, "pending_region_")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var newest testValue
	require.NoError(t, entries[0].Decode(&newest))
	assert.Equal(t, 2, newest.Count)
	assert.Equal(t, "pending_region_2", entries[0].Key)
}

func TestListPrefixEmpty(t *testing.T) {
	st := testStore(t)

	entries, err := st.ListPrefix(context.Background(), "nothing_")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckAndSetClaimsOnce(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "claim", testValue{Name: "pending"}))

	claim := func() bool {
		claimed := false
		err := st.CheckAndSet(ctx, "claim", func(current []byte) (any, bool, error) {
			var v testValue
			if current == nil {
				return nil, false, nil
			}
			if err := (Entry{Value: current}).Decode(&v); err != nil {
				return nil, false, err
			}
			if v.Name != "pending" {
				return nil, false, nil
			}
			v.Name = "claimed"
			claimed = true
			return v, true, nil
		})
		require.NoError(t, err)
		return claimed
	}

	assert.True(t, claim())
	assert.False(t, claim())
}

func TestCheckAndSetAbsentKey(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	sawNil := false
	err := st.CheckAndSet(ctx, "absent", func(current []byte) (any, bool, error) {
		sawNil = current == nil
		return testValue{Name: "created"}, true, nil
	})
	require.NoError(t, err)
	assert.True(t, sawNil)

	var got testValue
	require.NoError(t, st.Get(ctx, "absent", &got))
	assert.Equal(t, "created", got.Name)
}

func TestCheckAndSetKeepFalseLeavesValue(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "k", testValue{Name: "original"}))
	err := st.CheckAndSet(ctx, "k", func(current []byte) (any, bool, error) {
		return testValue{Name: "never"}, false, nil
	})
	require.NoError(t, err)

	var got testValue
	require.NoError(t, st.Get(ctx, "k", &got))
	assert.Equal(t, "original", got.Name)
}

func TestDeleteOlderThan(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "pending_video_old", testValue{Name: "old"}))
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, st.Put(ctx, "pending_video_new", testValue{Name: "new"}))

	n, err := st.DeleteOlderThan(ctx, "pending_video_", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got testValue
	assert.ErrorIs(t, st.Get(ctx, "pending_video_old", &got), ErrNotFound)
	assert.NoError(t, st.Get(ctx, "pending_video_new", &got))
}
