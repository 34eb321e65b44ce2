package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region journal
// Journal persists tick outcomes. The runner calls Record after every successful tick.
type Journal interface {
	Record(ctx context.Context, out Outcome) error
}

// #endregion journal

// #region store-journal
// StoreJournal commits every next state as a new controller version and writes the
// provenance row that explains it.
type StoreJournal struct {
	store   *state.Store
	trigger string

	mu     sync.Mutex
	parent string
}

// OpenStoreJournal resumes from the store's active version, creating one from initial
// when the store is empty. It returns the journal and the state to resume from.
func OpenStoreJournal(store *state.Store, initial state.ControllerState, trigger string) (*StoreJournal, state.ControllerState, error) {
	current, err := store.GetCurrent()
	if errors.Is(err, state.ErrVersionNotFound) {
		current, err = store.CreateInitialState(initial)
	}
	if err != nil {
		return nil, state.ControllerState{}, fmt.Errorf("open journal: %w", err)
	}
	if trigger == "" {
		trigger = "tick"
	}
	return &StoreJournal{store: store, trigger: trigger, parent: current.VersionID}, current.Controller, nil
}

// Head returns the version ID of the last committed state.
func (j *StoreJournal) Head() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.parent
}

// Record commits out.Next and its provenance row in one transaction. On error neither is
// written and the head does not move.
func (j *StoreJournal) Record(_ context.Context, out Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tick := TickRecord(out)
	measurements, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	effects, err := json.Marshal(tick.Effects)
	if err != nil {
		return fmt.Errorf("marshal effects: %w", err)
	}
	hash, err := logging.WindowHash(struct {
		Indices any `json:"indices"`
		Metrics any `json:"metrics"`
		Witness any `json:"witnesses"`
		OOD     any `json:"ood"`
	}{tick.Indices, tick.Metrics, tick.Witnesses, tick.OOD})
	if err != nil {
		return fmt.Errorf("hash window: %w", err)
	}

	rec := state.NewRecord(j.parent, out.Next)
	entry := logging.ProvenanceEntry{
		VersionID:        rec.VersionID,
		WindowHash:       hash,
		TriggerType:      j.trigger,
		Verdict:          string(out.Verify.Verdict),
		EffectsJSON:      string(effects),
		MeasurementsJSON: string(measurements),
		Reason:           string(out.Rule),
		CreatedAt:        rec.CreatedAt,
	}
	err = j.store.CommitStateWith(rec, func(tx *sql.Tx) error {
		return logging.LogTick(tx, entry)
	})
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	j.parent = rec.VersionID
	return nil
}

// #endregion store-journal

// #region tick-record
// TickRecord flattens an outcome into its provenance form.
func TickRecord(out Outcome) logging.TickRecord {
	kinds := effect.Kinds(out.Effects)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return logging.TickRecord{
		Prev:      out.Prev,
		Next:      out.Next,
		Indices:   out.Verify.Indices,
		Metrics:   out.Verify.Metrics,
		Witnesses: out.Verify.Witnesses,
		OOD:       out.Verify.OOD,
		Floors:    out.Floors,
		Config:    out.Config,
		Policy:    out.Policy.Name,
		Verdict:   out.Verify.Verdict,
		Rule:      string(out.Rule),
		Effects:   names,
	}
}

// #endregion tick-record
