package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	q        Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{q: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// HashPeer returns a stable hash of a peer address so raw addresses are never
// stored. The port is dropped: every connection from one host shares a key.
func HashPeer(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// Allow reports whether login is currently allowed and the time left on a block.
func (l *PG) Allow(ctx context.Context, username string, peerHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_lockouts WHERE normalized_username=$1 AND peer_hash=$2`
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, q, username, peerHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		now := l.now()
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (username, peer).
func (l *PG) Success(ctx context.Context, username string, peerHash []byte) error {
	const q = `
INSERT INTO login_lockouts (normalized_username, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (normalized_username, peer_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.q.Exec(ctx, q, username, peerHash)
	return err
}

// Failure records a failed attempt; reaching maxFails inside the window sets a block.
func (l *PG) Failure(ctx context.Context, username string, peerHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO login_lockouts (normalized_username, peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (normalized_username, peer_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - login_lockouts.updated_at > $3::interval THEN 1 ELSE login_lockouts.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.q.QueryRow(ctx, q, username, peerHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if l.maxFails > 0 && fails >= l.maxFails {
		blockUntil := l.now().Add(l.blockFor)
		const upd = `UPDATE login_lockouts SET blocked_until=$3 WHERE normalized_username=$1 AND peer_hash=$2`
		if _, err := l.q.Exec(ctx, upd, username, peerHash, blockUntil); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

var (
	_ Limiter = (*PG)(nil)
	_ Limiter = Nop{}
)
