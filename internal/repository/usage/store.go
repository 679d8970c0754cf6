package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
)

// totalsPrefix holds scope-wide counters in the daily hash. "@" never appears in a feature name.
const totalsPrefix = "@all"

const (
	fieldRequests     = "requests"
	fieldInputTokens  = "input_tokens"
	fieldOutputTokens = "output_tokens"
	fieldTotalTokens  = "total_tokens"
	fieldLastStatus   = "last_status"
)

// store is the consumer interface for usage recording (ISP).
type store interface {
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrByMulti(ctx context.Context, key string, deltas map[string]int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store appends usage events and maintains daily rollups (RPUSH + HINCRBY with TTL).
type Store struct {
	store     store
	prefix    string
	retention time.Duration
}

// New creates a usage store. retention <= 0 keeps keys forever.
func New(s store, prefix string, retention time.Duration) *Store {
	return &Store{store: s, prefix: prefix, retention: retention}
}

// Append writes rec to the day's event list and adds it to the daily rollup.
func (s *Store) Append(ctx context.Context, rec domusage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	date := domusage.DateKey(rec.CreatedAt)
	eventsKey := s.eventsKey(rec.Client, rec.Unit, date)
	dailyKey := s.dailyKey(rec.Client, rec.Unit, date)

	if err := s.store.RPush(ctx, eventsKey, string(data)); err != nil {
		return fmt.Errorf("usage RPUSH %s: %w", eventsKey, err)
	}

	deltas := make(map[string]int64, 8)
	for _, p := range []string{rec.Feature, totalsPrefix} {
		deltas[p+":"+fieldRequests] = 1
		deltas[p+":"+fieldInputTokens] = rec.InputTokens
		deltas[p+":"+fieldOutputTokens] = rec.OutputTokens
		deltas[p+":"+fieldTotalTokens] = rec.TotalTokens
	}
	if err := s.store.HIncrByMulti(ctx, dailyKey, deltas); err != nil {
		return fmt.Errorf("usage HINCRBY %s: %w", dailyKey, err)
	}

	status := map[string]string{
		rec.Feature + ":" + fieldLastStatus:  string(rec.Status),
		totalsPrefix + ":" + fieldLastStatus: string(rec.Status),
	}
	if err := s.store.HSet(ctx, dailyKey, status); err != nil {
		return fmt.Errorf("usage HSET %s: %w", dailyKey, err)
	}

	if s.retention > 0 {
		// Set TTL only if the key has no expiry yet (NX, not reset on repeat).
		for _, key := range []string{eventsKey, dailyKey} {
			if err := s.store.Expire(ctx, key, s.retention, true); err != nil {
				return fmt.Errorf("usage EXPIRE %s: %w", key, err)
			}
		}
	}
	return nil
}

// Events returns the records appended for a scope on date, oldest first.
// Undecodable entries are skipped.
func (s *Store) Events(ctx context.Context, client, unit, date string) ([]domusage.Record, error) {
	key := s.eventsKey(client, unit, date)
	vals, err := s.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("usage LRANGE %s: %w", key, err)
	}
	out := make([]domusage.Record, 0, len(vals))
	for _, v := range vals {
		var rec domusage.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Daily returns the rollup for a scope on date. A missing key yields zero totals.
func (s *Store) Daily(ctx context.Context, client, unit, date string) (domusage.Daily, error) {
	key := s.dailyKey(client, unit, date)
	m, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return domusage.Daily{}, fmt.Errorf("usage HGETALL %s: %w", key, err)
	}

	d := domusage.Daily{
		Client:   client,
		Unit:     unit,
		Date:     date,
		Features: make(map[string]domusage.Totals),
	}
	for field, val := range m {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		feature, counter := field[:i], field[i+1:]

		t := d.Features[feature]
		if feature == totalsPrefix {
			t = d.Total
		}
		if !applyCounter(&t, counter, val) {
			continue
		}
		if feature == totalsPrefix {
			d.Total = t
		} else {
			d.Features[feature] = t
		}
	}
	return d, nil
}

func applyCounter(t *domusage.Totals, counter, val string) bool {
	if counter == fieldLastStatus {
		t.LastStatus = domusage.Status(val)
		return true
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	switch counter {
	case fieldRequests:
		t.Requests = n
	case fieldInputTokens:
		t.InputTokens = n
	case fieldOutputTokens:
		t.OutputTokens = n
	case fieldTotalTokens:
		t.TotalTokens = n
	default:
		return false
	}
	return true
}

func (s *Store) eventsKey(client, unit, date string) string {
	return s.prefix + "usage:events:" + client + ":" + unit + ":" + date
}

func (s *Store) dailyKey(client, unit, date string) string {
	return s.prefix + "usage:daily:" + client + ":" + unit + ":" + date
}
