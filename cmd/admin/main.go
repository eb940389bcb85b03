// Admin CLI for operational maintenance: flush a provider's cache
// namespace, clear a suspect flag, or tail the recovery audit table.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	flushNS := flag.String("flush-namespace", "", "Delete cached responses for a provider (e.g. openai)")
	clearSuspect := flag.String("clear-suspect", "", "Remove a client's suspect flag")
	auditTail := flag.Int("audit-tail", 0, "Print the last N recovery audit rows")
	redisURL := flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	dbURL := flag.String("db", envOr("DATABASE_URL", ""), "Postgres URL")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case *flushNS != "":
		mustRedis(ctx, *redisURL, func(rdb *redis.Client) error {
			return deletePrefix(ctx, rdb, "resp:"+*flushNS+":")
		})
		fmt.Printf("Flushed cache namespace for %s\n", *flushNS)

	case *clearSuspect != "":
		mustRedis(ctx, *redisURL, func(rdb *redis.Client) error {
			return rdb.Del(ctx, "suspect:"+*clearSuspect).Err()
		})
		fmt.Printf("Cleared suspect flag for %s\n", *clearSuspect)

	case *auditTail > 0:
		if *dbURL == "" {
			fail("audit-tail requires -db or DATABASE_URL")
		}
		tailAudit(ctx, *dbURL, *auditTail)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func mustRedis(ctx context.Context, url string, fn func(*redis.Client) error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		fail("invalid redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := fn(rdb); err != nil {
		fail("redis operation failed: %v", err)
	}
}

func deletePrefix(ctx context.Context, rdb *redis.Client, prefix string) error {
	iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func tailAudit(ctx context.Context, dbURL string, limit int) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fail("open database: %v", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT recovery_id, target_service, error_type, status, started_at
		FROM recovery_audit
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		fail("query audit: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, target, kind, status string
		var started time.Time
		if err := rows.Scan(&id, &target, &kind, &status, &started); err != nil {
			fail("scan row: %v", err)
		}
		fmt.Printf("%s  %-12s %-22s %-10s %s\n",
			started.Format(time.RFC3339), target, kind, status, id)
	}
	if err := rows.Err(); err != nil {
		fail("iterate rows: %v", err)
	}
}
