package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"github.com/kiwari-pos/kds/internal/kitchendb/postgres"
	"github.com/kiwari-pos/kds/internal/kitchendb/sqlite"
	"github.com/shopspring/decimal"
)

var demoItems = []struct {
	code        string
	description string
}{
	{"NB-AYAM", "Nasi Bakar Ayam"},
	{"NB-CUMI", "Nasi Bakar Cumi"},
	{"NB-TERI", "Nasi Bakar Teri"},
	{"SIDE-TAHU", "Tahu Goreng"},
	{"DR-TEH", "Es Teh Manis"},
}

func main() {
	// CLI flags
	driver := flag.String("driver", "", "Database driver (postgres or sqlite)")
	pin := flag.String("pin", "", "Staff PIN to hash for STAFF_PIN_HASH")
	orders := flag.Int("orders", 6, "Number of demo orders to create")
	flag.Parse()

	// Fall back to environment variables
	if *pin == "" {
		*pin = os.Getenv("SEED_PIN")
	}
	if *pin == "" {
		*pin = "1234"
		log.Println("WARNING: Using default PIN '1234'. Change immediately in production!")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *driver != "" {
		cfg.DatabaseDriver = *driver
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid driver: %v", err)
		}
	}

	ctx := context.Background()
	seeder, closeDB, err := openSeeder(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open database: %v", err)
	}
	defer closeDB()
	log.Printf("Connected to %s database", cfg.DatabaseDriver)

	for _, item := range demoItems {
		if err := seeder.UpsertItem(ctx, item.code, item.description); err != nil {
			log.Fatalf("Failed to seed item %s: %v", item.code, err)
		}
	}
	log.Printf("Seeded %d menu items", len(demoItems))

	for i := 0; i < *orders; i++ {
		id, err := seeder.CreateOrder(ctx, demoOrder(i, cfg.OrderType))
		if err != nil {
			log.Fatalf("Failed to seed order: %v", err)
		}
		log.Printf("Created order %d", id)
	}

	hash, err := auth.HashPIN(*pin)
	if err != nil {
		log.Fatalf("Failed to hash PIN: %v", err)
	}

	log.Println("Seed completed successfully")
	fmt.Printf("STAFF_PIN_HASH=%s\n", hash)
}

// demoOrder cycles through statuses and item mixes. Every fourth order is a
// takeaway so the display filter has something to skip.
func demoOrder(i int, orderType string) kitchendb.NewOrder {
	statuses := []kitchen.Status{kitchen.StatusPlaced, kitchen.StatusStarted, kitchen.StatusReady}
	if i%4 == 3 {
		orderType = enum.OrderTypeTakeaway
	}

	first := demoItems[i%3]
	return kitchendb.NewOrder{
		OrderType: orderType,
		CreatedAt: time.Now().Add(time.Duration(i-30) * time.Minute),
		Status:    statuses[i%len(statuses)],
		Lines: []kitchendb.NewLine{
			{ItemCode: first.code, Quantity: decimal.NewFromInt(int64(i%2 + 1))},
			{ItemCode: "DR-TEH", Quantity: decimal.NewFromInt(2)},
		},
	}
}

func openSeeder(ctx context.Context, cfg *config.Config) (kitchendb.Seeder, func(), error) {
	if cfg.DatabaseDriver == config.DriverSQLite {
		store, err := sqlite.Open(cfg.SQLitePath, cfg.OrderType, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.New(pool, cfg.OrderType, nil), pool.Close, nil
}
