// Package main seeds the content database with items for the populators.
//
// Items are read from a JSON file (an array of items) or generated.
//
// Usage:
//
//	CONTENT_DB=~/IndexBridge/data/content.db go run ./cmd/seed --file items.json
//	CONTENT_DB=~/IndexBridge/data/content.db go run ./cmd/seed --generate 500 --category content
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/listenupapp/indexbridge/internal/content"
)

var (
	file     = flag.String("file", "", "JSON file holding an array of items")
	generate = flag.Int("generate", 0, "Number of items to generate")
	category = flag.String("category", "content", "Category of generated items")
)

var words = []string{
	"search", "index", "alias", "shadow", "primary", "swap", "rebuild", "query",
	"phrase", "keyword", "analyzer", "mapping", "document", "field", "range",
	"boolean", "populate", "batch", "refresh", "content", "member", "media",
}

func main() {
	flag.Parse()

	dbPath := os.Getenv("CONTENT_DB")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/IndexBridge/data/content.db")
	}

	fmt.Printf("Opening content database at: %s\n", dbPath)

	s, err := content.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open content database: %v", err)
	}
	defer s.Close()

	var items []*content.Item
	switch {
	case *file != "":
		items, err = readItems(*file)
		if err != nil {
			log.Fatalf("Failed to read items: %v", err)
		}
	case *generate > 0:
		items = generateItems(*category, *generate)
	default:
		log.Fatal("Nothing to seed: pass --file or --generate")
	}

	ctx := context.Background()
	const batch = 500
	for start := 0; start < len(items); start += batch {
		end := min(start+batch, len(items))
		if err := s.Put(ctx, items[start:end]...); err != nil {
			log.Fatalf("Failed to store items %d-%d: %v", start, end, err)
		}
	}

	fmt.Printf("Seeded %d items\n", len(items))
}

func readItems(path string) ([]*content.Item, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- Seed file path comes from the operator
	if err != nil {
		return nil, err
	}
	var items []*content.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

func generateItems(cat string, n int) []*content.Item {
	items := make([]*content.Item, n)
	now := time.Now()
	for i := range items {
		items[i] = &content.Item{
			ID:       fmt.Sprintf("%s-%05d", cat, i+1),
			Category: cat,
			ItemType: "article",
			Fields: map[string][]any{
				"nodeName":   {sentence(3)},
				"bodyText":   {sentence(40)},
				"updateDate": {now.Add(-time.Duration(rand.IntN(365*24)) * time.Hour).Format(time.RFC3339)},
				"sortOrder":  {i},
				"path":       {fmt.Sprintf("-1,%d", 1000+i)},
			},
		}
	}
	return items
}

func sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rand.IntN(len(words))]
	}
	return strings.Join(parts, " ")
}
