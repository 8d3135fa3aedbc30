package reconciler

import (
	"context"
	"slices"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
	obsmetrics "github.com/smallbiznis/iuran/internal/observability/metrics"
	"go.uber.org/zap"
)

// View is an ordered in-memory copy of the records in one scope, kept
// current from the dues change feed.
//
// Precedence: the baseline is loaded after subscribing, and events delivered
// meanwhile are applied on top of it in delivery order. Events overwrite the
// cached record with their full payload. A lagged subscription replaces the
// cache with a fresh baseline.
type View struct {
	scope   Scope
	src     Source
	log     *zap.Logger
	metrics *obsmetrics.DuesMetrics

	mu      sync.RWMutex
	records []domain.Record
	stale   bool

	sub     *feed.Subscription[domain.Record]
	changes chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Open subscribes, loads the baseline and starts applying events. ctx must
// carry the viewer the baseline reads are made as; cancelling it after Open
// returns does not stop the view.
func Open(ctx context.Context, src Source, scope Scope, log *zap.Logger) (*View, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := &View{
		scope:   scope,
		src:     src,
		log:     log.With(zap.String("scope", scope.Name())),
		metrics: obsmetrics.Dues(),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	v.sub = src.Subscribe(scope.Interest)
	baseline, err := scope.Baseline(ctx, src)
	if err != nil {
		v.sub.Close()
		return nil, err
	}
	v.replace(baseline)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v.cancel = cancel
	v.metrics.ViewOpened(scope.Name())
	go v.run(runCtx)
	return v, nil
}

// Snapshot returns a copy of the cached records in scope order.
func (v *View) Snapshot() []domain.Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.records)
}

// Changes signals after the cache changed. Signals coalesce; read Snapshot
// after each one.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

func (v *View) Scope() Scope { return v.scope }

// Done is closed once the view stopped applying events.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Close stops the view and waits for its consumer goroutine. It is safe to
// call more than once.
func (v *View) Close() {
	v.once.Do(func() {
		v.cancel()
		v.sub.Close()
		<-v.done
		v.metrics.ViewClosed(v.scope.Name())
	})
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.sub.Lagged():
			v.rebaseline(ctx)
		case ev := <-v.sub.Events():
			if v.isStale() {
				v.rebaseline(ctx)
				continue
			}
			if v.apply(ev) {
				v.notify()
			}
		}
	}
}

func (v *View) rebaseline(ctx context.Context) {
	// anything already buffered is covered by the new baseline
	for drained := false; !drained; {
		select {
		case <-v.sub.Events():
		default:
			drained = true
		}
	}

	baseline, err := v.scope.Baseline(ctx, v.src)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		v.log.Warn("view rebaseline failed", zap.Error(err))
		v.mu.Lock()
		v.stale = true
		v.mu.Unlock()
		return
	}
	v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileRebaseline)
	v.replace(baseline)
	v.notify()
}

func (v *View) replace(records []domain.Record) {
	kept := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if v.scope.Match(r) {
			kept = append(kept, r)
		}
	}
	slices.SortStableFunc(kept, v.compare)
	if limit := v.scope.Limit(); limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}

	v.mu.Lock()
	v.records = kept
	v.stale = false
	v.mu.Unlock()
}

// apply reports whether the cache changed.
func (v *View) apply(ev feed.Event[domain.Record]) bool {
	doc := ev.Document
	inScope := v.scope.Match(doc)

	v.mu.Lock()
	defer v.mu.Unlock()

	idx := v.indexOf(doc.ID)
	switch {
	case idx < 0 && !inScope:
		v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileDiscarded)
		return false
	case !inScope:
		v.records = slices.Delete(v.records, idx, idx+1)
		v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileEvicted)
		return true
	case idx >= 0:
		v.records = slices.Delete(v.records, idx, idx+1)
	}

	pos, _ := slices.BinarySearchFunc(v.records, doc, v.compare)
	if limit := v.scope.Limit(); limit > 0 && pos >= limit {
		// sorts past the bound; an older copy, if any, was removed above
		if idx >= 0 {
			v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileEvicted)
			return true
		}
		v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileDiscarded)
		return false
	}
	v.records = slices.Insert(v.records, pos, doc)
	if limit := v.scope.Limit(); limit > 0 && len(v.records) > limit {
		v.records = slices.Delete(v.records, limit, len(v.records))
	}
	v.metrics.RecordReconcile(v.scope.Name(), obsmetrics.ReconcileApplied)
	return true
}

func (v *View) compare(a, b domain.Record) int {
	switch {
	case v.scope.Less(a, b):
		return -1
	case v.scope.Less(b, a):
		return 1
	default:
		return 0
	}
}

func (v *View) indexOf(id snowflake.ID) int {
	return slices.IndexFunc(v.records, func(r domain.Record) bool { return r.ID == id })
}

func (v *View) isStale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stale
}

func (v *View) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}
