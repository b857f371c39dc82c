package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ediportal.org/internal/migrate"
	"ediportal.org/internal/obs"
	"ediportal.org/internal/store"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("EDIPORTAL_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()
	log := obs.Logger()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or EDIPORTAL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|version]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := store.OpenDB(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	switch flag.Arg(0) {
	case "up":
		err = migrate.Up(ctx, db)
	case "down":
		err = migrate.Down(ctx, db)
	case "status":
		err = migrate.Status(ctx, db)
	case "version":
		var v int64
		v, err = migrate.Version(ctx, db)
		if err == nil {
			fmt.Println(v)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
