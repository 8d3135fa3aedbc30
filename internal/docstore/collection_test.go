package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID     int64  `gorm:"primaryKey"`
	Owner  string `gorm:"index"`
	State  string
	Rank   int
	Marker *string
}

func setupCollection(t *testing.T) *Collection[note] {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.Table("notes").AutoMigrate(&note{}))
	return NewCollection[note](conn, "notes", feed.NewHub[note](8))
}

func TestCreateGetAndQuery(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)

	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1, Owner: "a", State: "open", Rank: 2}))
	require.NoError(t, c.Create(ctx, int64(2), &note{ID: 2, Owner: "a", State: "done", Rank: 1}))
	require.NoError(t, c.Create(ctx, int64(3), &note{ID: 3, Owner: "b", State: "open", Rank: 3}))

	got, err := c.Get(ctx, int64(2))
	require.NoError(t, err)
	assert.Equal(t, "done", got.State)

	_, err = c.Get(ctx, int64(99))
	require.ErrorIs(t, err, ErrNotFound)

	docs, err := c.Query(ctx, Query{
		Filters: []Filter{Eq("owner", "a")},
		Order:   []Order{{Field: "rank"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(2), docs[0].ID)

	docs, err = c.Query(ctx, Query{
		Filters: []Filter{Neq("state", "done")},
		Order:   []Order{{Field: "rank", Desc: true}},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(3), docs[0].ID)

	docs, err = c.Query(ctx, Query{Filters: []Filter{Eq("marker", nil)}})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)

	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1, Owner: "a", State: "open"}))
	require.NoError(t, c.Create(ctx, int64(2), &note{ID: 2, Owner: "a", State: "done"}))
	require.NoError(t, c.Create(ctx, int64(3), &note{ID: 3, Owner: "b", State: "open"}))

	n, err := c.Count(ctx, Eq("state", "open"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)

	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1}))
	err := c.Create(ctx, int64(1), &note{ID: 1})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)
	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1, State: "open"}))

	updated, err := c.ConditionalUpdate(ctx, int64(1),
		map[string]any{"state": "open"},
		map[string]any{"state": "done", "rank": 5},
	)
	require.NoError(t, err)
	assert.Equal(t, "done", updated.State)
	assert.Equal(t, 5, updated.Rank)

	_, err = c.ConditionalUpdate(ctx, int64(1),
		map[string]any{"state": "open"},
		map[string]any{"state": "closed"},
	)
	require.ErrorIs(t, err, ErrConflict)

	_, err = c.ConditionalUpdate(ctx, int64(42),
		map[string]any{"state": "open"},
		map[string]any{"state": "closed"},
	)
	require.ErrorIs(t, err, ErrNotFound)

	stored, err := c.Get(ctx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "done", stored.State)
}

func TestWritesArePublished(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)
	sub := c.Subscribe(func(n note) bool { return n.Owner == "a" })
	defer sub.Close()

	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1, Owner: "a", State: "open"}))
	require.NoError(t, c.Create(ctx, int64(2), &note{ID: 2, Owner: "b", State: "open"}))
	_, err := c.ConditionalUpdate(ctx, int64(1), map[string]any{"state": "open"}, map[string]any{"state": "done"})
	require.NoError(t, err)

	first := <-sub.Events()
	assert.Equal(t, feed.EventCreate, first.Type)
	second := <-sub.Events()
	assert.Equal(t, feed.EventUpdate, second.Type)
	assert.Equal(t, "done", second.Document.State)
	assert.Len(t, sub.Events(), 0)
}

func TestFailedUpdateDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	c := setupCollection(t)
	require.NoError(t, c.Create(ctx, int64(1), &note{ID: 1, State: "done"}))

	sub := c.Subscribe(nil)
	defer sub.Close()

	_, err := c.ConditionalUpdate(ctx, int64(1), map[string]any{"state": "open"}, map[string]any{"state": "x"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Len(t, sub.Events(), 0)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, Classify(gorm.ErrDuplicatedKey), ErrDuplicate)
	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrUnavailable)
	assert.ErrorIs(t, Classify(context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, Classify(gorm.ErrDuplicatedKey), gorm.ErrDuplicatedKey)
	assert.ErrorIs(t, Classify(fmt.Errorf("wrapped: %w", ErrConflict)), ErrConflict)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, Classify(ctx.Err()), ErrUnavailable)

	other := errors.New("boom")
	assert.Equal(t, other, Classify(other))
}
