// Package boltdb journals the resolved rounds of every game played, using the
// kv storage boltdb. Records are stored JSON-encoded with byte fields in hex.
package boltdb

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/blerps/blerps/common/log"
)

// BoltFileName is the name of the file boltdb writes to
const BoltFileName = "results.db"

// BoltStoreOpenPerm is the permission we will use to read bolt store file from disk
const BoltStoreOpenPerm = 0o660

var (
	sessionBucket = []byte("sessions")
	roundsBucket  = []byte("rounds")
)

var (
	// ErrNoSession is returned for unknown session ids or an empty journal.
	ErrNoSession = errors.New("no such session")
	// ErrNoRecord is returned for rounds that were not journaled.
	ErrNoRecord = errors.New("no record for round")
)

// Session describes one game.
type Session struct {
	ID      string   `json:"id"`
	Started int64    `json:"started"`
	GameID  string   `json:"game_id"`
	Local   string   `json:"local"`
	Players []string `json:"players"`
	Rounds  int      `json:"total_rounds"`
}

// Entry is one player's line in a round record.
type Entry struct {
	Address    string `json:"address"`
	Name       string `json:"name,omitempty"`
	Choice     string `json:"choice,omitempty"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	Delta      int    `json:"delta"`
	Key        []byte `json:"key,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
}

// Record is a resolved round as seen by the local player.
type Record struct {
	Session  string  `json:"session"`
	Round    uint8   `json:"round"`
	Resolved int64   `json:"resolved"`
	Entries  []Entry `json:"entries"`
}

// BoltStore is the results journal.
//
//nolint:gocritic// We do want to have a mutex here
type BoltStore struct {
	sync.Mutex
	db *bolt.DB

	log log.Logger
}

// NewBoltStore opens (or creates) the journal in folder.
func NewBoltStore(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dbPath := path.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	// create the buckets already
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(roundsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{
		log: l.Named("boltdb"),
		db:  db,
	}, nil
}

// BeginSession journals the start of a game.
func (b *BoltStore) BeginSession(ctx context.Context, s *Session) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buff, err := json.Marshal(s)
	if err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(roundsBucket).CreateBucketIfNotExists([]byte(s.ID)); err != nil {
			return err
		}
		return tx.Bucket(sessionBucket).Put([]byte(s.ID), buff)
	})
}

// Put journals a round. It overwrites a previous record of the same round.
func (b *BoltStore) Put(ctx context.Context, r *Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buff, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(roundsBucket).Bucket([]byte(r.Session))
		if bucket == nil {
			return ErrNoSession
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := bucket.Put([]byte{r.Round}, buff)
		if err != nil {
			b.log.Debugw("storing round", "session", r.Session, "round", r.Round, "err", err)
		}
		return err
	})
}

// Get returns the record of a round.
func (b *BoltStore) Get(ctx context.Context, session string, round uint8) (*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r := new(Record)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(roundsBucket).Bucket([]byte(session))
		if bucket == nil {
			return ErrNoSession
		}
		v := bucket.Get([]byte{round})
		if v == nil {
			return ErrNoRecord
		}
		return json.Unmarshal(v, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Rounds returns every record of a session in round order.
func (b *BoltStore) Rounds(ctx context.Context, session string) ([]*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out []*Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(roundsBucket).Bucket([]byte(session))
		if bucket == nil {
			return ErrNoSession
		}
		return bucket.ForEach(func(_, v []byte) error {
			r := new(Record)
			if err := json.Unmarshal(v, r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// Session returns the description of a game.
func (b *BoltStore) Session(ctx context.Context, id string) (*Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s := new(Session)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(id))
		if v == nil {
			return ErrNoSession
		}
		return json.Unmarshal(v, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions returns every game journaled, oldest first.
func (b *BoltStore) Sessions(ctx context.Context) ([]*Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out []*Session
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).ForEach(func(_, v []byte) error {
			s := new(Session)
			if err := json.Unmarshal(v, s); err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started < out[j].Started })
	return out, nil
}

// Last returns the most recent game.
func (b *BoltStore) Last(ctx context.Context) (*Session, error) {
	sessions, err := b.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNoSession
	}
	return sessions[len(sessions)-1], nil
}

// Close closes the underlying db.
func (b *BoltStore) Close(context.Context) error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}
