// Package main prints the index descriptors persisted in the descriptor store.
//
// Usage:
//
//	DB_PATH=~/IndexBridge/data/descriptors go run ./cmd/dbinspect
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/indexbridge/internal/index"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/IndexBridge/data/descriptors")
	}

	opts := badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Index Descriptors ===")
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tALIAS\tPRIMARY\tSHADOW\tFIELDS\tUPDATED")

	count := 0
	prefix := []byte(index.DescriptorPrefix)
	err = db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var d index.Descriptor
				if err := json.Unmarshal(val, &d); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}

				count++
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					d.Name, d.State, d.Alias, d.Primary, d.Shadow, len(d.Schema),
					d.UpdatedAt.Format(time.RFC3339))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to read descriptors: %v", err)
	}
	_ = tw.Flush()

	fmt.Println()
	fmt.Printf("Total: %d indexes\n", count)
}
