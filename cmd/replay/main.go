// Command replay reconstructs incident states from the audit trail. It reads
// records from either the JSONL audit log or the SQLite audit store, replays
// each incident's transitions through the workflow state machine, and prints
// the resulting terminal states.
//
// Usage:
//
//	replay -file audit.jsonl
//	replay -db audit.db -incident austin-1a2b3c4d
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cirruswatch/stormsentry/internal/audit"
)

func main() {
	file := flag.String("file", "", "path to a JSONL audit log")
	db := flag.String("db", "", "path to a SQLite audit store")
	incident := flag.String("incident", "", "replay only this incident ID")
	flag.Parse()

	if err := run(*file, *db, *incident); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(file, db, incident string) error {
	if (file == "") == (db == "") {
		return fmt.Errorf("exactly one of -file or -db is required")
	}

	records, err := loadRecords(file, db)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no audit records found")
	}

	byIncident, order := groupByIncident(records, incident)
	if incident != "" && len(order) == 0 {
		return fmt.Errorf("incident %q not found", incident)
	}

	failures := 0
	for _, id := range order {
		result, err := audit.Replay(byIncident[id])
		if err != nil {
			failures++
			fmt.Printf("%-40s REPLAY ERROR: %v\n", id, err)
			continue
		}
		printResult(result)
	}

	fmt.Printf("\n%d incident(s) replayed, %d failure(s)\n", len(order), failures)
	if failures > 0 {
		return fmt.Errorf("%d incident(s) failed to replay", failures)
	}
	return nil
}

func loadRecords(file, db string) ([]audit.Record, error) {
	if file != "" {
		return audit.ReadFile(file)
	}

	store, err := audit.OpenSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx := context.Background()
	ids, err := store.Incidents(ctx)
	if err != nil {
		return nil, err
	}

	var records []audit.Record
	for _, id := range ids {
		recs, err := store.ListByIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// groupByIncident splits records per incident, preserving first-seen order.
// A non-empty filter keeps only that incident.
func groupByIncident(records []audit.Record, filter string) (map[string][]audit.Record, []string) {
	byIncident := make(map[string][]audit.Record)
	var order []string
	for _, rec := range records {
		if filter != "" && rec.IncidentID != filter {
			continue
		}
		if _, seen := byIncident[rec.IncidentID]; !seen {
			order = append(order, rec.IncidentID)
		}
		byIncident[rec.IncidentID] = append(byIncident[rec.IncidentID], rec)
	}
	return byIncident, order
}

func printResult(r audit.ReplayResult) {
	detail := ""
	switch {
	case r.AbortReason != "":
		detail = "reason=" + r.AbortReason
	case r.ApprovalResolution != "":
		detail = "approval=" + r.ApprovalResolution
	}
	fmt.Printf("%-40s %-16s dispatched=%-5v records=%-3d %s\n",
		r.IncidentID, r.State, r.Dispatched, r.Records, detail)
}
