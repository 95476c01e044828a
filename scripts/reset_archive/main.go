// Command reset_archive drops the message archive and recreates it empty.
// The messaging consumer refills it from the event log on its next run
// when started with a fresh consumer group.
package main

import (
	"context"
	"log"

	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/db"
)

func main() {
	var cfg struct{ Scylla config.Scylla }
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	session, err := db.NewSession(cfg.Scylla)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}

	log.Println("Dropping table messages...")
	err = session.Query("DROP TABLE IF EXISTS messages").WithContext(ctx).Exec()
	session.Close()
	if err != nil {
		log.Fatalf("Failed to drop table: %v", err)
	}

	if err := db.EnsureSchema(ctx, cfg.Scylla); err != nil {
		log.Fatalf("Failed to recreate schema: %v", err)
	}
	log.Println("Archive reset.")
}
