package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/helixml/memkit/domain/memory"
	"github.com/helixml/memkit/internal/config"
)

// longTermAttenuation halves the importance of stale long-term records
// instead of demoting them.
const longTermAttenuation = 0.5

// ApplyDecay lowers the importance of every record at least a day old by
// the exponential decay factor for its age. Per-record failures are logged
// and skipped so one bad record never stalls the pass.
func (m Memory) ApplyDecay(ctx context.Context) error {
	if m.isClosed() {
		return ErrClientClosed
	}

	records, err := m.store.List(ctx, memory.NewFilter())
	if err != nil {
		return NewBackendError("list records for decay", err)
	}

	now := time.Now()
	rate := m.maintenance.DecayRate()
	decayed := 0
	for _, record := range records {
		if memory.AgeDays(record, now) < 1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		changed, err := m.decayRecord(ctx, record.ID(), rate, now)
		if err != nil {
			m.logger.Warn("decay failed",
				slog.String("id", record.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			decayed++
		}
	}

	m.logger.Debug("decay pass complete",
		slog.Int("records", len(records)),
		slog.Int("decayed", decayed),
	)
	return nil
}

// decayRecord re-reads one record inside its critical section and persists
// the decayed importance.
func (m Memory) decayRecord(ctx context.Context, id string, rate float64, now time.Time) (bool, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	fresh, found, err := m.store.Get(ctx, id)
	if err != nil {
		return false, NewBackendError("read record for decay", err)
	}
	if !found {
		return false, nil
	}

	ageDays := memory.AgeDays(fresh, now)
	if ageDays < 1 {
		return false, nil
	}

	next := memory.DecayedImportance(fresh.Importance(), rate, ageDays)
	if next == fresh.Importance() {
		return false, nil
	}

	updated := fresh.WithImportance(next)
	if err := m.store.Update(ctx, updated); err != nil {
		return false, NewBackendError("persist decayed importance", err)
	}
	m.cache.Update(updated)
	return true, nil
}

// rebalanceOutcome reports what a rebalance pass did to one record.
type rebalanceOutcome int

const (
	rebalanceNone rebalanceOutcome = iota
	rebalancePromoted
	rebalanceDemoted
	rebalanceAttenuated
)

// RebalanceLayers moves records between tiers based on their score and the
// per-tier TTLs. Records past their TTL with a low score demote one tier,
// except long-term records, which halve their importance in place.
// High-scoring records promote straight to long-term.
func (m Memory) RebalanceLayers(ctx context.Context) error {
	if m.isClosed() {
		return ErrClientClosed
	}

	records, err := m.store.List(ctx, memory.NewFilter())
	if err != nil {
		return NewBackendError("list records for rebalance", err)
	}

	now := time.Now()
	rate := m.maintenance.DecayRate()
	promoted, demoted, attenuated := 0, 0, 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := m.rebalanceRecord(ctx, record.ID(), rate, now)
		if err != nil {
			m.logger.Warn("rebalance failed",
				slog.String("id", record.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch outcome {
		case rebalancePromoted:
			promoted++
		case rebalanceDemoted:
			demoted++
		case rebalanceAttenuated:
			attenuated++
		}
	}

	m.logger.Debug("rebalance pass complete",
		slog.Int("records", len(records)),
		slog.Int("promoted", promoted),
		slog.Int("demoted", demoted),
		slog.Int("attenuated", attenuated),
	)
	return nil
}

// rebalanceRecord re-reads one record inside its critical section and
// applies at most one tier transition.
func (m Memory) rebalanceRecord(ctx context.Context, id string, rate float64, now time.Time) (rebalanceOutcome, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	fresh, found, err := m.store.Get(ctx, id)
	if err != nil {
		return rebalanceNone, NewBackendError("read record for rebalance", err)
	}
	if !found {
		return rebalanceNone, nil
	}

	score := memory.Score(fresh, rate, now)
	age := now.Sub(fresh.Timestamp())
	ttl := layerTTL(m.retention, fresh.Layer())

	var updated memory.Record
	var outcome rebalanceOutcome
	switch {
	case age > ttl && score < memory.DemoteScore:
		if fresh.Layer() == memory.LayerLongTerm {
			updated = fresh.WithImportance(fresh.Importance() * longTermAttenuation)
			outcome = rebalanceAttenuated
		} else {
			next := fresh.Layer().Demoted()
			if next == fresh.Layer() {
				return rebalanceNone, nil
			}
			updated = fresh.WithLayer(next)
			outcome = rebalanceDemoted
		}
	case score > memory.PromoteScore && fresh.Layer() != memory.LayerLongTerm:
		updated = fresh.WithLayer(memory.LayerLongTerm)
		outcome = rebalancePromoted
	default:
		return rebalanceNone, nil
	}

	if err := m.store.Update(ctx, updated); err != nil {
		return rebalanceNone, NewBackendError("persist rebalanced record", err)
	}
	m.cache.Update(updated)
	return outcome, nil
}

// layerTTL maps a layer to its configured time-to-live.
func layerTTL(retention config.RetentionConfig, layer memory.Layer) time.Duration {
	switch layer {
	case memory.LayerWorking:
		return retention.Working()
	case memory.LayerShortTerm:
		return retention.ShortTerm()
	default:
		return retention.LongTerm()
	}
}
