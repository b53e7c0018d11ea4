package ledger

import (
	"context"
	"fmt"
)

// Failure locations recorded in verification reports.
const (
	LocationStorage       = "storage"
	LocationVerification  = "verification"
	LocationKeyContinuity = "key_continuity"
)

// Failure describes one verification failure.
type Failure struct {
	EntryID  string `json:"entry_id"`
	Location string `json:"location"`
	Error    string `json:"error"`
}

// Report is the structured result of replaying a ledger. Passed is true only
// when every entry verified and at least one accountable signing key was
// observed (for a non-empty ledger). FirstFailure* duplicate the head of
// Failures for quick triage.
type Report struct {
	Passed               bool      `json:"passed"`
	TotalEntries         int       `json:"total_entries"`
	VerifiedEntries      int       `json:"verified_entries"`
	FirstFailureEntryID  string    `json:"first_failure_entry_id,omitempty"`
	FirstFailureLocation string    `json:"first_failure_location,omitempty"`
	Failures             []Failure `json:"failures"`
}

func (r *Report) addFailure(entryID, location, msg string) {
	r.Passed = false
	if r.FirstFailureEntryID == "" && r.FirstFailureLocation == "" {
		r.FirstFailureEntryID = entryID
		r.FirstFailureLocation = location
	}
	r.Failures = append(r.Failures, Failure{EntryID: entryID, Location: location, Error: msg})
}

// Engine replays an entire ledger, verifying every entry and the chain
// between them. The engine is a stateless orchestrator: construct one per
// verification session.
type Engine struct {
	store    Store
	verifier *Verifier
	keys     KeySource
}

// NewEngine creates an Engine over store, resolving signing keys through keys.
func NewEngine(store Store, keys KeySource) *Engine {
	return &Engine{store: store, verifier: NewVerifier(keys), keys: keys}
}

// Verify replays the ledger and returns a report. Individual entry failures
// do not abort the replay — the engine continues so a single corrupted entry
// cannot hide the full scope of damage — but storage failures that prevent
// reading further do, since no partial report would be meaningful beyond
// that point. An empty ledger passes with zero entries.
func (g *Engine) Verify(ctx context.Context) (*Report, error) {
	report := &Report{Passed: true, Failures: []Failure{}}

	it, err := g.store.Entries(ctx)
	if err != nil {
		report.addFailure("", LocationStorage, err.Error())
		return report, nil
	}
	defer it.Close()

	var prev *Entry
	observedKeys := map[string]struct{}{}

	for it.Next() {
		e := it.Entry()
		report.TotalEntries++

		if _, ok := g.keys.PublicKey(e.SigningKeyID); ok {
			observedKeys[e.SigningKeyID] = struct{}{}
		}

		if err := g.verifier.VerifyEntry(e, prev); err != nil {
			report.addFailure(e.EntryID, LocationVerification, err.Error())
			// prev stays at the last trusted entry: successors of a
			// failed entry chain from untrusted material and are
			// reported as broken too.
			continue
		}
		report.VerifiedEntries++
		prev = e
	}
	if err := it.Err(); err != nil {
		report.addFailure("", LocationStorage, err.Error())
		return report, nil
	}

	if report.TotalEntries > 0 && len(observedKeys) == 0 {
		report.addFailure("", LocationKeyContinuity,
			fmt.Sprintf("%v: %d entries, 0 accountable signing keys", ErrKeyContinuity, report.TotalEntries))
	}

	return report, nil
}

// VerifyFile replays the ledger file at path read-only and returns its
// report. This is the entry point used by auditors and the CLI.
func VerifyFile(ctx context.Context, path string, keys KeySource) (*Report, error) {
	store, err := NewFileStore(path, true)
	if err != nil {
		return nil, err
	}
	return NewEngine(store, keys).Verify(ctx)
}
