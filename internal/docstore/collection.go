package docstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stripeCount = 64

// Collection is a typed table with a change feed. T must be a gorm model
// whose primary key column is named by idColumn.
type Collection[T any] struct {
	name     string
	idColumn string
	db       *gorm.DB
	hub      *feed.Hub[T]
	bridge   *feed.Bridge[T]
	log      *zap.Logger
	tracer   trace.Tracer
	stripes  [stripeCount]sync.Mutex
}

type Option[T any] func(*Collection[T])

// WithBridge forwards committed writes to peer processes.
func WithBridge[T any](bridge *feed.Bridge[T]) Option[T] {
	return func(c *Collection[T]) { c.bridge = bridge }
}

func WithLogger[T any](log *zap.Logger) Option[T] {
	return func(c *Collection[T]) { c.log = log }
}

func NewCollection[T any](db *gorm.DB, name string, hub *feed.Hub[T], opts ...Option[T]) *Collection[T] {
	c := &Collection[T]{
		name:     name,
		idColumn: "id",
		db:       db,
		hub:      hub,
		log:      zap.NewNop(),
		tracer:   otel.Tracer("iuran/docstore"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hub == nil {
		c.hub = feed.NewHub[T](feed.DefaultSubscriberBuffer)
	}
	c.log = c.log.Named("docstore").With(zap.String("collection", name))
	return c
}

func (c *Collection[T]) Name() string { return c.name }

// DB exposes the handle for callers that need a transaction spanning several
// collections.
func (c *Collection[T]) DB() *gorm.DB { return c.db }

func (c *Collection[T]) Create(ctx context.Context, id any, doc *T) error {
	ctx, span := c.start(ctx, "create")
	defer span.End()

	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := c.db.WithContext(ctx).Table(c.name).Create(doc).Error; err != nil {
		return c.fail(span, err)
	}
	c.publish(ctx, feed.Event[T]{Type: feed.EventCreate, Document: *doc})
	return nil
}

func (c *Collection[T]) Get(ctx context.Context, id any) (*T, error) {
	ctx, span := c.start(ctx, "get")
	defer span.End()

	doc, err := c.get(ctx, c.db, id)
	if err != nil {
		return nil, c.fail(span, err)
	}
	return doc, nil
}

func (c *Collection[T]) get(ctx context.Context, tx *gorm.DB, id any) (*T, error) {
	var doc T
	err := tx.WithContext(ctx).
		Table(c.name).
		Where(map[string]any{c.idColumn: id}).
		Take(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Collection[T]) Query(ctx context.Context, q Query) ([]T, error) {
	ctx, span := c.start(ctx, "query")
	defer span.End()
	span.SetAttributes(attribute.Int("docstore.limit", q.Limit))

	var docs []T
	if err := q.apply(c.db.WithContext(ctx).Table(c.name)).Find(&docs).Error; err != nil {
		return nil, c.fail(span, err)
	}
	return docs, nil
}

// Count returns how many documents match filters.
func (c *Collection[T]) Count(ctx context.Context, filters ...Filter) (int64, error) {
	ctx, span := c.start(ctx, "count")
	defer span.End()

	var n int64
	q := Query{Filters: filters}
	if err := q.apply(c.db.WithContext(ctx).Table(c.name)).Count(&n).Error; err != nil {
		return 0, c.fail(span, err)
	}
	return n, nil
}

// ConditionalUpdate applies set only while every column in expected still
// holds its expected value. It returns the stored document after the write,
// ErrConflict when the row exists but no longer matches, and ErrNotFound
// when the row is absent.
func (c *Collection[T]) ConditionalUpdate(ctx context.Context, id any, expected, set map[string]any) (*T, error) {
	ctx, span := c.start(ctx, "conditional_update")
	defer span.End()

	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	where := make(map[string]any, len(expected)+1)
	for k, v := range expected {
		where[k] = v
	}
	where[c.idColumn] = id

	var doc *T
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(c.name).Where(where).Updates(set)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Table(c.name).Where(map[string]any{c.idColumn: id}).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		stored, err := c.get(ctx, tx, id)
		if err != nil {
			return err
		}
		doc = stored
		return nil
	})
	if err != nil {
		return nil, c.fail(span, err)
	}

	c.publish(ctx, feed.Event[T]{Type: feed.EventUpdate, Document: *doc})
	return doc, nil
}

// Subscribe streams committed writes whose document satisfies predicate.
func (c *Collection[T]) Subscribe(predicate func(T) bool) *feed.Subscription[T] {
	return c.hub.Subscribe(predicate)
}

func (c *Collection[T]) publish(ctx context.Context, ev feed.Event[T]) {
	c.hub.Publish(ev)
	if c.bridge == nil {
		return
	}
	if err := c.bridge.Forward(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Warn("feed forward failed", zap.Error(err))
	}
}

func (c *Collection[T]) lockFor(id any) *sync.Mutex {
	h := fnv.New32a()
	_, _ = fmt.Fprint(h, id)
	return &c.stripes[h.Sum32()%stripeCount]
}

func (c *Collection[T]) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(
		attribute.String("docstore.collection", c.name),
	))
}

func (c *Collection[T]) fail(span trace.Span, err error) error {
	classified := Classify(err)
	span.RecordError(classified)
	span.SetStatus(codes.Error, "docstore error")
	return classified
}
