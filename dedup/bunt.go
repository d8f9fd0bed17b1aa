package dedup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

const keyPattern = "card:*"

// BuntStore keeps states in an in-memory buntdb database. Every entry
// carries a TTL so abandoned keys expire even without a Sweeper.
type BuntStore struct {
	db  *buntdb.DB
	ttl time.Duration
}

// OpenBunt opens a BuntStore whose entries expire after ttl.
func OpenBunt(ttl time.Duration) (*BuntStore, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open buntdb: %w", err)
	}
	return &BuntStore{db: db, ttl: ttl}, nil
}

func (b *BuntStore) Swap(key Key, decide func(prev *State) *State) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		k := key.String()

		var prev *State
		val, err := tx.Delete(k)
		switch {
		case err == nil:
			if s, err := decodeState(val); err == nil {
				prev = &s
			}
		case errors.Is(err, buntdb.ErrNotFound):
		default:
			return fmt.Errorf("delete %s: %w", k, err)
		}

		next := decide(prev)
		if next == nil {
			return nil
		}
		opts := &buntdb.SetOptions{Expires: b.ttl > 0, TTL: b.ttl}
		if _, _, err := tx.Set(k, encodeState(*next), opts); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
		return nil
	})
}

func (b *BuntStore) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *buntdb.Tx) error {
		var stale []string
		err := tx.AscendKeys(keyPattern, func(k, v string) bool {
			s, err := decodeState(v)
			if err != nil || !s.At.After(cutoff) {
				stale = append(stale, k)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return removed, nil
}

func (b *BuntStore) Len() int {
	n := 0
	_ = b.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n
}

func (b *BuntStore) Close() error {
	return b.db.Close()
}

// encodeState renders a State as "<kind>:<unix nanos>".
func encodeState(s State) string {
	return strconv.Itoa(int(s.Kind)) + ":" + strconv.FormatInt(s.At.UnixNano(), 10)
}

func decodeState(v string) (State, error) {
	kind, at, ok := strings.Cut(v, ":")
	if !ok {
		return State{}, fmt.Errorf("malformed state %q", v)
	}
	k, err := strconv.Atoi(kind)
	if err != nil {
		return State{}, fmt.Errorf("malformed state kind %q: %w", v, err)
	}
	ns, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("malformed state time %q: %w", v, err)
	}
	return State{Kind: Kind(k), At: time.Unix(0, ns)}, nil
}

// NewStore returns the Store named by cfg.Store ("memory" or "buntdb").
func NewStore(cfg Config) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "buntdb":
		window := cfg.Window
		if window <= 0 {
			window = DefaultWindow
		}
		return OpenBunt(2 * window)
	default:
		return nil, fmt.Errorf("unknown dedup store %q", cfg.Store)
	}
}
