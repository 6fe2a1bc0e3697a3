// Command lynkr-audit reads the main audit log offline, optionally
// resolving each record's content-addressable $ref fields back to full
// text against the dictionary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lynkr/lynkr/internal/audit"
)

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		logPath       string
		dictPath      string
		full          bool
		filters       stringSlice
		correlationID string
		last          int
		stats         bool
		verify        bool
		versionFlag   bool
	)
	flag.StringVar(&logPath, "log", "", "audit log JSONL file (required)")
	flag.StringVar(&dictPath, "dictionary", "", "dictionary JSONL file (required unless -full and -verify are both omitted)")
	flag.BoolVar(&full, "full", false, "resolve $ref fields to full content before printing")
	flag.Var(&filters, "filter", "key=value filter on a record field (repeatable); key is one of sessionId, provider, correlationId")
	flag.StringVar(&correlationID, "correlation-id", "", "only print records with this correlation id")
	flag.IntVar(&last, "last", 0, "only consider the last N records")
	flag.BoolVar(&stats, "stats", false, "print aggregate counts instead of records")
	flag.BoolVar(&verify, "verify", false, "verify every $ref resolves against the dictionary; exit 1 if any do not")
	flag.BoolVar(&versionFlag, "version", false, "print version and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println("lynkr-audit (dev build)")
		return nil
	}
	if logPath == "" {
		flag.Usage()
		return fmt.Errorf("-log is required")
	}
	if full && dictPath == "" {
		return fmt.Errorf("-full requires -dictionary")
	}

	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", logPath, err)
	}
	defer f.Close()

	records, err := audit.ReadRecords(f)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	parsedFilters, err := parseFilters(filters, correlationID)
	if err != nil {
		return err
	}
	records = applyFilters(records, parsedFilters)
	if last > 0 && len(records) > last {
		records = records[len(records)-last:]
	}

	var restorer *audit.Restorer
	if (full || verify) && dictPath != "" {
		dict, openErr := audit.Open(dictPath)
		if openErr != nil {
			return fmt.Errorf("open dictionary %s: %w", dictPath, openErr)
		}
		defer dict.Close()
		restorer, err = audit.NewRestorer(dict, 4096)
		if err != nil {
			return fmt.Errorf("create restorer: %w", err)
		}
	}

	if verify {
		return runVerify(records, restorer)
	}
	if stats {
		printStats(records)
		return nil
	}
	return printRecords(records, restorer, full)
}

type filter struct {
	key   string
	value string
}

func parseFilters(raw stringSlice, correlationID string) ([]filter, error) {
	var out []filter
	for _, f := range raw {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid -filter %q: expected key=value", f)
		}
		out = append(out, filter{key: parts[0], value: parts[1]})
	}
	if correlationID != "" {
		out = append(out, filter{key: "correlationId", value: correlationID})
	}
	return out, nil
}

func applyFilters(records []audit.Record, filters []filter) []audit.Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]audit.Record, 0, len(records))
	for _, rec := range records {
		if matchesAll(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesAll(rec audit.Record, filters []filter) bool {
	for _, f := range filters {
		var got string
		switch f.key {
		case "sessionId":
			got = rec.SessionID
		case "provider":
			got = rec.Provider
		case "correlationId":
			got = rec.CorrelationID
		default:
			return false
		}
		if got != f.value {
			return false
		}
	}
	return true
}

func printRecords(records []audit.Record, restorer *audit.Restorer, full bool) error {
	for _, rec := range records {
		out := rec
		if full && restorer != nil {
			resolved, err := resolveRecord(rec, restorer)
			if err != nil {
				return err
			}
			out = resolved
		}
		line, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		fmt.Println(string(line))
	}
	return nil
}

func resolveRecord(rec audit.Record, restorer *audit.Restorer) (audit.Record, error) {
	resolved := rec
	for _, field := range []*json.RawMessage{&resolved.SystemPrompt, &resolved.UserMessages, &resolved.Response} {
		if len(*field) == 0 {
			continue
		}
		text, err := audit.ResolveField(*field, restorer)
		if err != nil {
			return rec, err
		}
		encoded, err := json.Marshal(text)
		if err != nil {
			return rec, fmt.Errorf("encode resolved field: %w", err)
		}
		*field = encoded
	}
	return resolved, nil
}

func printStats(records []audit.Record) {
	providers := map[string]int{}
	sessions := map[string]bool{}
	correlations := map[string]bool{}
	var refFields, fullFields int

	for _, rec := range records {
		providers[rec.Provider]++
		sessions[rec.SessionID] = true
		correlations[rec.CorrelationID] = true
		for _, field := range []json.RawMessage{rec.SystemPrompt, rec.UserMessages, rec.Response} {
			if len(field) == 0 {
				continue
			}
			_, _, isRef, err := audit.DecodeField(field)
			if err != nil {
				continue
			}
			if isRef {
				refFields++
			} else {
				fullFields++
			}
		}
	}

	fmt.Printf("records: %d\n", len(records))
	fmt.Printf("unique sessions: %d\n", len(sessions))
	fmt.Printf("unique correlation ids: %d\n", len(correlations))
	fmt.Printf("ref fields: %d\n", refFields)
	fmt.Printf("full fields: %d\n", fullFields)
	for provider, count := range providers {
		fmt.Printf("provider %s: %d\n", provider, count)
	}
}

func runVerify(records []audit.Record, restorer *audit.Restorer) error {
	if restorer == nil {
		return fmt.Errorf("-verify requires -dictionary")
	}
	unresolved := 0
	for _, rec := range records {
		for name, field := range map[string]json.RawMessage{
			"systemPrompt": rec.SystemPrompt,
			"userMessages": rec.UserMessages,
			"response":     rec.Response,
		} {
			if len(field) == 0 {
				continue
			}
			_, ref, isRef, err := audit.DecodeField(field)
			if err != nil || !isRef {
				continue
			}
			if _, err := restorer.Resolve(*ref); err != nil {
				fmt.Printf("unresolved $ref %s (%s) in correlation %s\n", ref.Hash, name, rec.CorrelationID)
				unresolved++
			}
		}
	}
	if unresolved > 0 {
		fmt.Printf("%d unresolved references\n", unresolved)
		os.Exit(1)
	}
	fmt.Println("0 unresolved references")
	return nil
}
