package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidentsec/auditledger/internal/server"
	"github.com/evidentsec/auditledger/pkg/keys"
	"github.com/evidentsec/auditledger/pkg/ledger"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerPath string
	keyDir     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Audit ledger CLI",
	Long: `ledgerctl is the command-line interface for the audit ledger.

It manages signing keys, appends entries, replays and verifies the
full chain, and exports entries for offline audit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "data/audit.ledger", "path to the ledger file")
	rootCmd.PersistentFlags().StringVar(&keyDir, "key-dir", "data/keys", "signing key directory")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// registryFromDirs builds the verification key set from the primary key
// directory plus any extra directories holding rotated-out keys.
func registryFromDirs(extra []string) (*keys.Registry, error) {
	registry := keys.NewRegistry()
	dirs := append([]string{keyDir}, extra...)
	for _, dir := range dirs {
		if err := registry.AddDir(dir); err != nil {
			return nil, fmt.Errorf("load keys from %q: %w", dir, err)
		}
	}
	return registry, nil
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing keypair",
	Long:  "Generates a new ed25519 signing keypair in the key directory. Refuses to overwrite an existing one.",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := keys.NewManager(keyDir)
		if manager.Exists() {
			return fmt.Errorf("key directory %q already holds a keypair", keyDir)
		}
		pair, err := manager.Generate()
		if err != nil {
			return err
		}
		fmt.Printf("Generated signing keypair in %s\n", keyDir)
		fmt.Printf("Key ID: %s\n", pair.KeyID)
		return nil
	},
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendComponent  string
	appendInstanceID string
	appendAction     string
	appendSubject    string
	appendActor      string
	appendPayload    string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append one entry to the ledger",
	Long: `Appends a signed, chained entry to the ledger file.

The payload is given as a JSON object via --payload, or "-" to read it
from stdin. Subject and actor take "type:id" form.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := keys.NewManager(keyDir)
		pair, err := manager.Load()
		if err != nil {
			return fmt.Errorf("load signing keys: %w", err)
		}
		signer, err := ledger.NewSigner(pair.Private, pair.KeyID)
		if err != nil {
			return err
		}

		store, err := ledger.NewFileStore(ledgerPath, false)
		if err != nil {
			return err
		}

		var payload map[string]any
		raw := appendPayload
		if raw == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read payload from stdin: %w", err)
			}
			raw = string(b)
		}
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return fmt.Errorf("parse payload: %w", err)
			}
		}

		subject, err := parseTypedRef(appendSubject)
		if err != nil {
			return fmt.Errorf("parse --subject: %w", err)
		}
		actorRef, err := parseTypedRef(appendActor)
		if err != nil {
			return fmt.Errorf("parse --actor: %w", err)
		}

		writer := ledger.NewWriter(store, signer)
		entry, err := writer.Append(context.Background(),
			appendComponent, appendInstanceID, appendAction,
			ledger.Subject{Type: subject[0], ID: subject[1]},
			ledger.Actor{Type: actorRef[0], Identifier: actorRef[1]},
			payload,
		)
		if err != nil {
			return err
		}

		fmt.Printf("Appended entry %s\n", entry.EntryID)
		fmt.Printf("Entry hash: %s\n", entry.EntryHash)
		return nil
	},
}

// parseTypedRef splits "type:id" into its two parts. An empty string is
// allowed and yields two empty parts.
func parseTypedRef(s string) ([2]string, error) {
	if s == "" {
		return [2]string{}, nil
	}
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return [2]string{}, fmt.Errorf("want type:id, got %q", s)
	}
	return [2]string{typ, id}, nil
}

func init() {
	appendCmd.Flags().StringVar(&appendComponent, "component", "", "component recording the action (required)")
	appendCmd.Flags().StringVar(&appendInstanceID, "instance-id", "", "component instance identifier (required)")
	appendCmd.Flags().StringVar(&appendAction, "action", "", "action type (required)")
	appendCmd.Flags().StringVar(&appendSubject, "subject", "", "subject as type:id")
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "actor as type:identifier")
	appendCmd.Flags().StringVar(&appendPayload, "payload", "", `payload JSON object, or "-" for stdin`)
	_ = appendCmd.MarkFlagRequired("component")
	_ = appendCmd.MarkFlagRequired("instance-id")
	_ = appendCmd.MarkFlagRequired("action")
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyExtraKeyDirs []string
	verifyOutput       string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay and verify the full ledger",
	Long: `Replays every entry in the ledger and verifies hashes, signatures,
and chain links. The ledger file is opened read-only. Exits non-zero
when verification fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := registryFromDirs(verifyExtraKeyDirs)
		if err != nil {
			return err
		}
		if registry.Len() == 0 {
			return fmt.Errorf("no public keys found in %q", keyDir)
		}

		report, err := ledger.VerifyFile(context.Background(), ledgerPath, registry)
		if err != nil {
			return err
		}

		if verifyOutput == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(report)
		}

		if !report.Passed {
			// Exit code communicates the verdict to scripts without
			// parsing output.
			os.Exit(1)
		}
		return nil
	},
}

func printReport(report *ledger.Report) {
	verdict := "PASSED"
	if !report.Passed {
		verdict = "FAILED"
	}
	fmt.Printf("Ledger verification: %s\n", verdict)
	fmt.Printf("  Total entries:    %d\n", report.TotalEntries)
	fmt.Printf("  Verified entries: %d\n", report.VerifiedEntries)
	if len(report.Failures) == 0 {
		return
	}

	fmt.Printf("  Failures:         %d\n\n", len(report.Failures))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY ID\tLOCATION\tERROR")
	for _, f := range report.Failures {
		id := f.EntryID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, f.Location, f.Error)
	}
	w.Flush()
}

func init() {
	verifyCmd.Flags().StringSliceVar(&verifyExtraKeyDirs, "extra-key-dir", nil, "additional key directories for rotated-out keys")
	verifyCmd.Flags().StringVar(&verifyOutput, "output", "text", "output format: text or json")
}

// ── export ───────────────────────────────────────────────────────────────────

var (
	exportFormat  string
	exportStartID string
	exportEndID   string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger entries for offline audit",
	Long: `Exports entries in ledger order as a JSON array or as JSON Lines.

--start-entry-id and --end-entry-id bound the export to an inclusive
range of entry ids; both default to the whole ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ledger.NewFileStore(ledgerPath, true)
		if err != nil {
			return err
		}
		it, err := store.Entries(context.Background())
		if err != nil {
			return err
		}
		defer it.Close()

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		inRange := exportStartID == ""
		count := 0

		var collected []*ledger.Entry
		enc := json.NewEncoder(out)

		for it.Next() {
			e := it.Entry()
			if !inRange && e.EntryID == exportStartID {
				inRange = true
			}
			if inRange {
				count++
				switch exportFormat {
				case "jsonl":
					if err := enc.Encode(e); err != nil {
						return err
					}
				case "json":
					collected = append(collected, e)
				default:
					return fmt.Errorf("unknown export format %q", exportFormat)
				}
				if exportEndID != "" && e.EntryID == exportEndID {
					break
				}
			}
		}
		if err := it.Err(); err != nil {
			return err
		}

		if exportFormat == "json" {
			if collected == nil {
				collected = []*ledger.Entry{}
			}
			enc.SetIndent("", "  ")
			if err := enc.Encode(collected); err != nil {
				return err
			}
		}

		fmt.Fprintf(os.Stderr, "Exported %d entries\n", count)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "export format: jsonl or json")
	exportCmd.Flags().StringVar(&exportStartID, "start-entry-id", "", "first entry id to export (inclusive)")
	exportCmd.Flags().StringVar(&exportEndID, "end-entry-id", "", "last entry id to export (inclusive)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenComponent string
	tokenIssuer    string
	tokenTTL       time.Duration
	tokenKeyDir    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token for the HTTP API",
	Long: `Mints an EdDSA-signed service token bound to a component name.

The token is signed with the keypair in --auth-key-dir, which should be
the API auth keypair, not the ledger signing keypair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := keys.NewManager(tokenKeyDir)
		pair, err := manager.LoadOrCreate()
		if err != nil {
			return fmt.Errorf("load auth keys: %w", err)
		}

		issuer := server.NewTokenIssuer(pair.Private, tokenIssuer, tokenTTL)
		token, err := issuer.Issue(tokenComponent)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenComponent, "component", "", "component the token is bound to (required)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "auditledger", "token issuer claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenKeyDir, "auth-key-dir", "data/auth-keys", "API auth key directory")
	_ = tokenCmd.MarkFlagRequired("component")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
