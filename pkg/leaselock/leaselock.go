// Package leaselock implements an expiring single-writer lock on a Postgres
// table. A holder renews its lease in the background; losing it cancels the
// lease context.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

const (
	defaultTTL          = 5 * time.Minute
	defaultWaitInterval = 250 * time.Millisecond
	statementTimeout    = 15 * time.Second
)

// renewPolicy and releasePolicy retry transient database errors. A lease
// that is gone is never retried.
var (
	renewPolicy   = util.Policy{Delays: []time.Duration{200 * time.Millisecond}, MaxAttempts: 3}
	releasePolicy = util.Policy{Delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}, MaxAttempts: 3}
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the lock frees up instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
	// Owner is stored next to the token for operators, e.g. host and run id.
	Owner string
}

// Lease is a held lock. Context is cancelled when the lease is released or
// lost; its cause is ErrLost in the latter case.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	db     dbConn
	ttl    time.Duration
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a client on db, usually a *pgxpool.Pool.
func New(db dbConn) *Client {
	return &Client{db: db}
}

// WithLease runs fn while holding key. fn gets the lease context.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))
	return fn(lease.Context)
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	const op = "lease.acquire"
	if key == "" {
		return nil, ingesterr.Newf(ingesterr.KindConfig, op, "lease lock key is empty")
	}
	opts = normalize(opts)

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id

	for {
		held, err := c.tryAcquire(ctx, key, token, opts)
		switch {
		case err != nil:
			return nil, ingesterr.New(ingesterr.KindConnectivity, op, err)
		case held:
			return c.hold(ctx, key, token, opts), nil
		case !opts.Wait:
			return nil, ingesterr.New(ingesterr.KindConflict, op, ErrBusy)
		}
		if err := util.Sleep(ctx, jittered(opts.WaitInterval, opts.WaitJitter)); err != nil {
			return nil, err
		}
	}
}

// tryAcquire claims key for token if it is free, expired, or already ours.
func (c *Client) tryAcquire(ctx context.Context, key, token string, opts Options) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, acquireSQL, key, opts.Owner, token, opts.TTL.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == key, nil
}

func (c *Client) hold(ctx context.Context, key, token string, opts Options) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		db:      c.db,
		ttl:     opts.TTL,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery)
	return l
}

// Release stops renewal and deletes the lock row. It is safe to call more
// than once.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})
	<-l.done

	return util.RetryErrWithContext(ctx, releasePolicy, func(ctx context.Context) error {
		_, err := l.db.Exec(ctx, releaseSQL, l.Key, l.Token)
		return err
	}, nil)
}

func (l *Lease) keepAlive(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
			if err := l.renew(); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

// renew extends the expiry by one TTL. It fails with ErrLost once another
// holder took over or the row is gone.
func (l *Lease) renew() error {
	return util.RetryErrWithContext(l.Context, renewPolicy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, statementTimeout)
		defer cancel()
		var got string
		err := l.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttl.Milliseconds()).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			return ingesterr.Permanentf(ingesterr.KindConflict, "lease.renew", "%w", ErrLost)
		}
		return err
	}, nil)
}

// normalize fills in defaults and keeps RenewEvery below TTL.
func normalize(opts Options) Options {
	if opts.TTL <= 0 || opts.TTL.Milliseconds() <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = defaultWaitInterval
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}
	return opts
}

func jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + rand.N(jitter+1)
}

const acquireSQL = `
INSERT INTO knowledge.ingest_locks AS l (key, owner, token, expires_at, heartbeat_at)
VALUES ($1, $2, $3, now() + make_interval(secs => $4::bigint / 1000.0), now())
ON CONFLICT (key) DO UPDATE
SET owner        = EXCLUDED.owner,
    token        = EXCLUDED.token,
    expires_at   = EXCLUDED.expires_at,
    heartbeat_at = EXCLUDED.heartbeat_at,
    created_at   = now()
WHERE l.expires_at < now() OR l.token = EXCLUDED.token
RETURNING key`

const renewSQL = `
UPDATE knowledge.ingest_locks
SET expires_at   = now() + make_interval(secs => $3::bigint / 1000.0),
    heartbeat_at = now()
WHERE key = $1 AND token = $2
RETURNING key`

const releaseSQL = `DELETE FROM knowledge.ingest_locks WHERE key = $1 AND token = $2`
