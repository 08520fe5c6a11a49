package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeLikeDB mimics the server-side behavior of the three statements
// toggleLike issues: pg_advisory_xact_lock blocks until the pair lock is
// free and holds it until commit, ON CONFLICT DO NOTHING reports zero
// rows for an existing pair without blocking, and DELETE removes the
// row if present. Writes without the pair lock fail, so a toggle that
// skips the lock cannot pass.
type fakeLikeDB struct {
	mu    sync.Mutex
	locks map[likePair]*sync.Mutex
	rows  map[likePair]bool
}

type likePair struct {
	postID string
	userID string
}

func newFakeLikeDB() *fakeLikeDB {
	return &fakeLikeDB{
		locks: make(map[likePair]*sync.Mutex),
		rows:  make(map[likePair]bool),
	}
}

func (db *fakeLikeDB) pairLock(key likePair) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.locks[key]
	if !ok {
		m = &sync.Mutex{}
		db.locks[key] = m
	}
	return m
}

func (db *fakeLikeDB) liked(key likePair) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rows[key]
}

func (db *fakeLikeDB) begin() *fakeLikeTx {
	return &fakeLikeTx{db: db, held: make(map[likePair]*sync.Mutex)}
}

type fakeLikeTx struct {
	db   *fakeLikeDB
	held map[likePair]*sync.Mutex
}

func (tx *fakeLikeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if len(args) != 2 {
		return pgconn.CommandTag{}, fmt.Errorf("expected 2 args, got %d", len(args))
	}
	key := likePair{postID: args[0].(string), userID: args[1].(string)}
	switch sql {
	case likePairLockQuery:
		m := tx.db.pairLock(key)
		m.Lock()
		tx.held[key] = m
		return pgconn.NewCommandTag("SELECT 1"), nil
	case likeInsertQuery:
		if tx.held[key] == nil {
			return pgconn.CommandTag{}, errors.New("insert without holding the pair lock")
		}
		tx.db.mu.Lock()
		defer tx.db.mu.Unlock()
		if tx.db.rows[key] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		tx.db.rows[key] = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case likeDeleteQuery:
		if tx.held[key] == nil {
			return pgconn.CommandTag{}, errors.New("delete without holding the pair lock")
		}
		tx.db.mu.Lock()
		defer tx.db.mu.Unlock()
		if !tx.db.rows[key] {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(tx.db.rows, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement %q", sql)
}

// commit releases the advisory locks, as the server does at transaction
// end.
func (tx *fakeLikeTx) commit() {
	for key, m := range tx.held {
		m.Unlock()
		delete(tx.held, key)
	}
}

func runToggle(t *testing.T, db *fakeLikeDB, postID, userID string) bool {
	t.Helper()
	tx := db.begin()
	defer tx.commit()
	liked, err := toggleLike(context.Background(), tx, postID, userID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	return liked
}

func TestToggleLikeAlternates(t *testing.T) {
	db := newFakeLikeDB()
	want := []bool{true, false, true, false}
	for i, expected := range want {
		if got := runToggle(t, db, "post-1", "user-1"); got != expected {
			t.Fatalf("toggle %d returned %v, want %v", i, got, expected)
		}
	}
}

func TestToggleLikeIsolatesPairs(t *testing.T) {
	db := newFakeLikeDB()
	runToggle(t, db, "post-1", "user-1")
	runToggle(t, db, "post-1", "user-2")
	runToggle(t, db, "post-1", "user-2")

	if !db.liked(likePair{"post-1", "user-1"}) {
		t.Fatalf("user-1 like should survive user-2's toggles")
	}
	if db.liked(likePair{"post-1", "user-2"}) {
		t.Fatalf("user-2 should end not liked")
	}
}

// Concurrent toggles for one pair must serialize: from the liked state,
// an even number of toggles lands back on liked, and the individual
// results split evenly between liked and not liked. Without the pair
// lock, two racers both observe the existing row and both delete it.
func TestToggleLikeConcurrentParity(t *testing.T) {
	db := newFakeLikeDB()
	key := likePair{"post-1", "user-1"}
	runToggle(t, db, key.postID, key.userID)
	if !db.liked(key) {
		t.Fatalf("seed toggle should leave the pair liked")
	}

	const toggles = 32
	results := make(chan bool, toggles)
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := db.begin()
			defer tx.commit()
			liked, err := toggleLike(context.Background(), tx, key.postID, key.userID)
			if err != nil {
				t.Errorf("toggle: %v", err)
				return
			}
			results <- liked
		}()
	}
	wg.Wait()
	close(results)

	likedCount := 0
	total := 0
	for liked := range results {
		total++
		if liked {
			likedCount++
		}
	}
	if total != toggles {
		t.Fatalf("expected %d results, got %d", toggles, total)
	}
	if likedCount != toggles/2 {
		t.Fatalf("serialized toggles from liked must alternate: %d liked of %d", likedCount, toggles)
	}
	if !db.liked(key) {
		t.Fatalf("even toggle count from liked must end liked")
	}
}
