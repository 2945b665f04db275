// Package livesync keeps a local list of entities in step with the remote
// store. Writes are projected immediately with a provisional id, and every
// change event on the list's scope triggers a full refetch that replaces the
// local state.
package livesync

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"servchat/internal/realtime"
)

// TempPrefix marks ids of provisional entities that the server has not
// confirmed yet.
const TempPrefix = "tmp-"

var (
	ErrUnauthorized = errors.New("not authorized for this scope")
	ErrNoScope      = errors.New("no scope selected")
	ErrClosed       = errors.New("controller closed")
)

// IsProvisional reports whether id was assigned locally by Send.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

type Entity interface {
	EntityID() string
}

// Source is the remote side of a list: a full read of one scope and a create
// within it.
type Source[T Entity] interface {
	Fetch(ctx context.Context, scope realtime.Scope) ([]T, error)
	Create(ctx context.Context, scope realtime.Scope, draft T) (T, error)
}

type Options[T Entity] struct {
	// Provisional returns draft carrying the given temporary id. Required.
	Provisional func(draft T, id string) T

	// Authorize is consulted before every Send. Nil allows every scope.
	Authorize func(scope realtime.Scope) bool

	// OnChange receives a copy of the list after every local change.
	OnChange func(items []T)

	Logger *zap.Logger
}

type Controller[T Entity] struct {
	src  Source[T]
	sub  realtime.Subscriber
	opts Options[T]
	log  *zap.Logger

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	hasScope    bool
	scope       realtime.Scope
	epoch       uint64
	fetchSeq    uint64
	applied     uint64
	items       []T
	pending     []T
	feed        realtime.Subscription
	cancelScope context.CancelFunc
	version     uint64

	emitMu  sync.Mutex
	emitted uint64
}

func NewController[T Entity](src Source[T], sub realtime.Subscriber, opts Options[T]) *Controller[T] {
	if opts.Provisional == nil {
		panic("livesync: Options.Provisional is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Controller[T]{
		src:      src,
		sub:      sub,
		opts:     opts,
		log:      logger,
		base:     base,
		stopBase: stop,
	}
}

// SetScope switches the controller to scope: the previous subscription and
// any in-flight fetch for the old scope are abandoned, local state is
// cleared, a new subscription is opened and the first fetch runs before
// SetScope returns. A failed first fetch is returned but the scope stays
// selected; the next change event retries.
func (c *Controller[T]) SetScope(ctx context.Context, scope realtime.Scope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.dropScopeLocked()

	c.epoch++
	epoch := c.epoch
	scopeCtx, cancel := context.WithCancel(c.base)
	c.cancelScope = cancel
	c.scope = scope
	c.hasScope = true
	c.items = nil
	c.pending = nil
	c.applied = c.fetchSeq
	c.feed = c.sub.Subscribe(scope, func(realtime.Event) {
		c.spawnRefetch(scopeCtx, epoch)
	})
	v := c.touchLocked()
	c.mu.Unlock()
	c.emit(v)

	fetchCtx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(scopeCtx, stop)
	defer unlink()

	return c.refetch(fetchCtx, epoch)
}

// Refresh re-reads the current scope.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasScope {
		c.mu.Unlock()
		return ErrNoScope
	}
	epoch := c.epoch
	c.mu.Unlock()
	return c.refetch(ctx, epoch)
}

func (c *Controller[T]) spawnRefetch(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_ = c.refetch(ctx, epoch)
	}()
}

// refetch reads the scope of epoch and applies the result unless the scope
// has changed since or a newer fetch already landed.
func (c *Controller[T]) refetch(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.fetchSeq++
	seq := c.fetchSeq
	scope := c.scope
	c.mu.Unlock()

	items, err := c.src.Fetch(ctx, scope)

	c.mu.Lock()
	if epoch != c.epoch || seq <= c.applied {
		c.mu.Unlock()
		c.log.Debug("dropping stale fetch",
			zap.String("table", string(scope.Table)),
			zap.String("value", scope.Value),
			zap.Uint64("seq", seq))
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("fetch failed, keeping previous state",
			zap.String("table", string(scope.Table)),
			zap.String("value", scope.Value),
			zap.Error(err))
		return err
	}
	c.applied = seq
	c.items = c.mergeLocked(items)
	v := c.touchLocked()
	c.mu.Unlock()
	c.emit(v)
	return nil
}

// mergeLocked appends provisional entities still awaiting their write to a
// fresh snapshot.
func (c *Controller[T]) mergeLocked(snapshot []T) []T {
	out := make([]T, 0, len(snapshot)+len(c.pending))
	out = append(out, snapshot...)
	out = append(out, c.pending...)
	return out
}

// Send appends a provisional copy of draft, creates it remotely and then
// reconciles: on failure the provisional entry is removed, on success it is
// replaced by the created entity unless a refetch already delivered it.
func (c *Controller[T]) Send(ctx context.Context, draft T) (T, error) {
	var zero T

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	if !c.hasScope {
		c.mu.Unlock()
		return zero, ErrNoScope
	}
	scope := c.scope
	epoch := c.epoch
	if c.opts.Authorize != nil && !c.opts.Authorize(scope) {
		c.mu.Unlock()
		return zero, ErrUnauthorized
	}
	tmp := c.opts.Provisional(draft, TempPrefix+uuid.NewString())
	tmpID := tmp.EntityID()
	c.items = append(c.items, tmp)
	c.pending = append(c.pending, tmp)
	v := c.touchLocked()
	c.mu.Unlock()
	c.emit(v)

	created, err := c.src.Create(ctx, scope, draft)

	c.mu.Lock()
	c.pending = removeID(c.pending, tmpID)
	if epoch != c.epoch {
		c.mu.Unlock()
		return created, err
	}
	if err != nil {
		c.items = removeID(c.items, tmpID)
		v = c.touchLocked()
		c.mu.Unlock()
		c.emit(v)
		c.log.Warn("send failed, rolled back",
			zap.String("table", string(scope.Table)),
			zap.String("tmp_id", tmpID),
			zap.Error(err))
		return zero, err
	}
	if indexOf(c.items, created.EntityID()) >= 0 {
		c.items = removeID(c.items, tmpID)
	} else if i := indexOf(c.items, tmpID); i >= 0 {
		c.items[i] = created
	} else {
		c.items = append(c.items, created)
	}
	v = c.touchLocked()
	c.mu.Unlock()
	c.emit(v)
	return created, nil
}

func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *Controller[T]) Scope() (realtime.Scope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope, c.hasScope
}

// Close cancels the subscription and waits for background refetches.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.dropScopeLocked()
	c.epoch++
	c.mu.Unlock()

	c.stopBase()
	c.wg.Wait()
}

func (c *Controller[T]) dropScopeLocked() {
	if c.feed != nil {
		c.feed.Cancel()
		c.feed = nil
	}
	if c.cancelScope != nil {
		c.cancelScope()
		c.cancelScope = nil
	}
}

func (c *Controller[T]) touchLocked() uint64 {
	c.version++
	return c.version
}

// emit hands the current list to OnChange. Versions older than one already
// emitted are skipped so observers never step backwards.
func (c *Controller[T]) emit(v uint64) {
	if c.opts.OnChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if v <= c.emitted {
		return
	}
	c.emitted = v
	c.opts.OnChange(c.Items())
}

func indexOf[T Entity](items []T, id string) int {
	for i, it := range items {
		if it.EntityID() == id {
			return i
		}
	}
	return -1
}

func removeID[T Entity](items []T, id string) []T {
	out := items[:0:0]
	for _, it := range items {
		if it.EntityID() != id {
			out = append(out, it)
		}
	}
	return out
}
