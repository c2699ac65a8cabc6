// tdb CLI
// Opens a database file and reports collection and index stats
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nainya/tdb"
	"github.com/nainya/tdb/internal/logger"
)

var (
	dbPath   = flag.String("db", "tdb.data", "database file path")
	logLevel = flag.String("log-level", "info", "debug, info, warn, error")
	readOnly = flag.Bool("read-only", false, "open the database read-only")
)

func main() {
	flag.Parse()

	lg := logger.New(logger.Config{Level: *logLevel, Pretty: true, Output: os.Stderr})

	engine, err := tdb.Open(*dbPath, tdb.WithLogger(lg), tdb.WithReadOnly(*readOnly))
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer engine.Close()

	names := engine.Collections()
	if len(names) == 0 {
		fmt.Println("no collections declared")
		return
	}

	for _, name := range names {
		coll, _ := engine.Collection(name)
		stats, err := coll.Stats()
		if err != nil {
			log.Fatalf("stats %s: %v", name, err)
		}
		fmt.Printf("%s: %d documents, %d pages\n", name, stats.DocCount, stats.PageCount)
		for _, idx := range coll.Indexes() {
			fmt.Printf("  index %s%s on %v\n", idx.Name, uniqueSuffix(idx.Unique), idx.Fields)
		}
	}
}

func uniqueSuffix(unique bool) string {
	if unique {
		return " (unique)"
	}
	return ""
}
