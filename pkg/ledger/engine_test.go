package ledger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evidentsec/auditledger/pkg/ledger"
)

// seedLedger appends n entries through a Writer and returns the store, the
// file path, the verification keyring, and the appended entries in order.
func seedLedger(t *testing.T, n int) (*ledger.FileStore, string, keyring, []*ledger.Entry) {
	t.Helper()
	store, path := newFileStore(t)
	signer, keys := newTestSigner(t)
	writer := ledger.NewWriter(store, signer)

	entries := make([]*ledger.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := writer.Append(ctx, "scanner", "scanner-01", "scan_step",
			ledger.Subject{Type: "host", ID: "10.0.0.5"},
			ledger.Actor{Type: "service", Identifier: "scheduler"},
			map[string]any{"step": i, "detail": "probe"},
		)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	return store, path, keys, entries
}

func TestWriter_chainsEntries(t *testing.T) {
	_, _, _, entries := seedLedger(t, 3)

	if entries[0].PrevEntryHash != "" {
		t.Errorf("genesis prev_entry_hash: got %q, want empty", entries[0].PrevEntryHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevEntryHash != entries[i-1].EntryHash {
			t.Errorf("entry %d: prev_entry_hash=%q, want predecessor hash %q",
				i, entries[i].PrevEntryHash, entries[i-1].EntryHash)
		}
	}
	for i, e := range entries {
		if e.EntryID == "" || e.Timestamp == "" || e.Signature == "" {
			t.Errorf("entry %d missing writer-computed fields: %+v", i, e)
		}
	}
}

func TestEngine_validLedgerPasses(t *testing.T) {
	store, _, keys, entries := seedLedger(t, 3)

	report, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed {
		t.Errorf("valid ledger failed: %+v", report)
	}
	if report.TotalEntries != len(entries) || report.VerifiedEntries != len(entries) {
		t.Errorf("counts: total=%d verified=%d, want %d/%d",
			report.TotalEntries, report.VerifiedEntries, len(entries), len(entries))
	}
	if len(report.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", report.Failures)
	}
}

func TestEngine_emptyLedgerPasses(t *testing.T) {
	store, _ := newFileStore(t)
	_, keys := newTestSigner(t)

	report, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed || report.TotalEntries != 0 {
		t.Errorf("empty ledger: got %+v, want passed with 0 entries", report)
	}
}

// tamperLine rewrites one line of the ledger file through edit, preserving
// all other lines.
func tamperLine(t *testing.T, path string, lineNo int, edit func(string) string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	lines[lineNo-1] = edit(lines[lineNo-1])
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_tamperedMiddleEntry(t *testing.T) {
	store, path, keys, entries := seedLedger(t, 3)

	// Flip the payload of the second entry on disk. Its stored hash no
	// longer matches its content, and the third entry now chains from
	// untrusted material.
	tamperLine(t, path, 2, func(line string) string {
		tampered := strings.Replace(line, `"probe"`, `"PROBE"`, 1)
		if tampered == line {
			t.Fatal("tamper substitution did not apply")
		}
		return tampered
	})

	report, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if report.Passed {
		t.Fatal("tampered ledger passed verification")
	}
	if report.TotalEntries != 3 {
		t.Errorf("total_entries: got %d, want 3", report.TotalEntries)
	}
	if report.VerifiedEntries != 1 {
		t.Errorf("verified_entries: got %d, want 1", report.VerifiedEntries)
	}
	if report.FirstFailureEntryID != entries[1].EntryID {
		t.Errorf("first_failure_entry_id: got %q, want %q",
			report.FirstFailureEntryID, entries[1].EntryID)
	}
	if report.FirstFailureLocation != ledger.LocationVerification {
		t.Errorf("first_failure_location: got %q, want %q",
			report.FirstFailureLocation, ledger.LocationVerification)
	}

	// The tampered entry fails its hash check; its successor is reported
	// as chain-broken even though its own content is untouched.
	if len(report.Failures) != 2 {
		t.Fatalf("failures: got %d, want 2: %+v", len(report.Failures), report.Failures)
	}
	if report.Failures[1].EntryID != entries[2].EntryID {
		t.Errorf("second failure entry: got %q, want %q",
			report.Failures[1].EntryID, entries[2].EntryID)
	}
}

func TestEngine_reorderedEntries(t *testing.T) {
	store, path, keys, _ := seedLedger(t, 3)

	// Swap the last two lines. Each entry is individually intact but the
	// chain order no longer holds.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	lines[1], lines[2] = lines[2], lines[1]
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed {
		t.Fatal("reordered ledger passed verification")
	}
	if report.FirstFailureLocation != ledger.LocationVerification {
		t.Errorf("first_failure_location: got %q, want %q",
			report.FirstFailureLocation, ledger.LocationVerification)
	}
}

func TestEngine_unknownSigningKey(t *testing.T) {
	store, _, _, _ := seedLedger(t, 2)

	// Verify against a keyring that knows none of the ledger's keys. Every
	// signature check fails, and the replay additionally reports that zero
	// accountable signing keys were observed.
	report, err := ledger.NewEngine(store, keyring{}).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed {
		t.Fatal("ledger with unresolvable keys passed verification")
	}
	if report.VerifiedEntries != 0 {
		t.Errorf("verified_entries: got %d, want 0", report.VerifiedEntries)
	}

	found := false
	for _, f := range report.Failures {
		if f.Location == ledger.LocationKeyContinuity {
			found = true
		}
	}
	if !found {
		t.Errorf("no key_continuity failure reported: %+v", report.Failures)
	}
}

func TestEngine_malformedRecordIsStorageFailure(t *testing.T) {
	store, path, keys, _ := seedLedger(t, 2)

	tamperLine(t, path, 2, func(string) string { return "{garbage" })

	report, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed {
		t.Fatal("ledger with unparsable record passed verification")
	}
	if report.VerifiedEntries != 1 {
		t.Errorf("verified_entries: got %d, want 1", report.VerifiedEntries)
	}

	last := report.Failures[len(report.Failures)-1]
	if last.Location != ledger.LocationStorage {
		t.Errorf("failure location: got %q, want %q", last.Location, ledger.LocationStorage)
	}
	if !strings.Contains(last.Error, "line 2") {
		t.Errorf("storage failure should name the line: %q", last.Error)
	}
}

func TestEngine_verifyIsRepeatable(t *testing.T) {
	store, path, keys, _ := seedLedger(t, 3)
	tamperLine(t, path, 2, func(line string) string {
		return strings.Replace(line, `"probe"`, `"PROBE"`, 1)
	})

	first, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ledger.NewEngine(store, keys).Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if first.Passed != second.Passed ||
		first.VerifiedEntries != second.VerifiedEntries ||
		len(first.Failures) != len(second.Failures) {
		t.Errorf("verification not repeatable: first=%+v second=%+v", first, second)
	}
}

func TestVerifyFile_missingLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created.ledger")
	_, keys := newTestSigner(t)

	report, err := ledger.VerifyFile(ctx, path, keys)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed || report.TotalEntries != 0 {
		t.Errorf("missing ledger: got %+v, want passed with 0 entries", report)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("verification created the ledger file")
	}
}
