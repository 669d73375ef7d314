package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/db"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

// Standalone chain check: works on a copy of the ledger file or straight
// against Postgres, without the rest of the configuration.
func main() {
	ledgerPath := flag.String("ledger", "", "Path to a ledger JSON document")
	dbURL := flag.String("db", "", "Postgres connection string (reads ledger_entries)")
	flag.Parse()

	if (*ledgerPath == "") == (*dbURL == "") {
		flag.Usage()
		os.Exit(2)
	}

	var (
		entries []worm.Entry
		err     error
	)
	if *ledgerPath != "" {
		fmt.Printf("Verifying ledger file %s...\n", *ledgerPath)
		entries, err = ledger.ReadFile(*ledgerPath)
	} else {
		fmt.Println("Verifying ledger_entries in Postgres...")
		entries, err = loadPostgres(*dbURL)
	}
	if err != nil {
		log.Fatal(err)
	}

	report := worm.Validate(entries)
	if !report.OK {
		fmt.Printf("❌ BROKEN CHAIN at index %d!\n", report.BrokenAt)
		for _, e := range report.Errors {
			fmt.Printf("   %s\n", e)
		}
		os.Exit(1)
	}

	fmt.Printf("✅ Verification Complete. Chain is INTACT.\n")
	fmt.Printf("   Total Entries: %d\n", report.Total)
	if n := len(entries); n > 0 {
		last := entries[n-1]
		fmt.Printf("   Last Entry:    %d %s (%s)\n", last.Index, last.ReferenceID, last.Timestamp.Format(time.RFC3339))
	}
	fmt.Printf("   Final Hash:    %s\n", report.LastHash)
}

func loadPostgres(dsn string) ([]worm.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.Connect(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	defer database.Close()
	return database.Ledger.Load(ctx)
}
