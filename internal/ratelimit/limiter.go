package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCounters = []byte("rate_counters")

const (
	hourWindow = "2006010215"
	dayWindow  = "20060102"
)

// Limits are per-account sending caps. Zero means unlimited.
type Limits struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// Limiter enforces per-account anti-ban sending quotas. Counters live in
// bbolt keyed by account and time window, so caps survive restarts.
type Limiter struct {
	db         *bolt.DB
	defaults   Limits
	perAccount map[int]Limits
	now        func() time.Time
}

// NewLimiter creates a limiter on an already-open bolt database. perAccount
// overrides the defaults for specific accounts.
func NewLimiter(db *bolt.DB, defaults Limits, perAccount map[int]Limits) (*Limiter, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCounters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate counter bucket: %w", err)
	}

	return &Limiter{
		db:         db,
		defaults:   defaults,
		perAccount: perAccount,
		now:        time.Now,
	}, nil
}

func (l *Limiter) limitsFor(id int) Limits {
	if lim, ok := l.perAccount[id]; ok {
		return lim
	}
	return l.defaults
}

func hourKey(id int, t time.Time) []byte {
	return []byte(fmt.Sprintf("a:%d:h:%s", id, t.Format(hourWindow)))
}

func dayKey(id int, t time.Time) []byte {
	return []byte(fmt.Sprintf("a:%d:d:%s", id, t.Format(dayWindow)))
}

func readCount(b *bolt.Bucket, key []byte) int {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	n, _ := strconv.Atoi(string(v))
	return n
}

// Allow reports whether the account may send another message in the current
// hour and day windows.
func (l *Limiter) Allow(id int) bool {
	limits := l.limitsFor(id)
	if limits.MessagesPerHour <= 0 && limits.MessagesPerDay <= 0 {
		return true
	}

	now := l.now()
	allowed := true

	l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if limits.MessagesPerHour > 0 && readCount(b, hourKey(id, now)) >= limits.MessagesPerHour {
			allowed = false
		}
		if limits.MessagesPerDay > 0 && readCount(b, dayKey(id, now)) >= limits.MessagesPerDay {
			allowed = false
		}
		return nil
	})

	return allowed
}

// Record counts one successful send against the account's windows.
func (l *Limiter) Record(id int) error {
	now := l.now()

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		for _, key := range [][]byte{hourKey(id, now), dayKey(id, now)} {
			n := readCount(b, key) + 1
			if err := b.Put(key, []byte(strconv.Itoa(n))); err != nil {
				return fmt.Errorf("failed to update rate counter: %w", err)
			}
		}
		return nil
	})
}

// Count returns the current hour and day counters for an account.
func (l *Limiter) Count(id int) (hour, day int) {
	now := l.now()
	l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		hour = readCount(b, hourKey(id, now))
		day = readCount(b, dayKey(id, now))
		return nil
	})
	return hour, day
}

// Cleanup removes counters from expired windows.
func (l *Limiter) Cleanup() error {
	now := l.now()
	curHour := now.Format(hourWindow)
	curDay := now.Format(dayWindow)

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		c := b.Cursor()

		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			parts := strings.Split(string(k), ":")
			if len(parts) != 4 {
				stale = append(stale, append([]byte{}, k...))
				continue
			}
			switch parts[2] {
			case "h":
				if parts[3] != curHour {
					stale = append(stale, append([]byte{}, k...))
				}
			case "d":
				if parts[3] != curDay {
					stale = append(stale, append([]byte{}, k...))
				}
			}
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
