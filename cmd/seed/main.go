// seed inserts a handful of pre-provisioned organizations and one
// sample cron task per tier into the local dev database. Organizations
// are never created through the HTTP API — provisioning them is an
// out-of-band operation, and this is the dev stand-in for it.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/runlater/core/internal/infrastructure/postgres"
)

type orgSpec struct {
	id   string
	name string
	tier string
}

// Fixed organization UUIDs so re-running the seed never duplicates an
// organization and the footer below can print stable copy-pasteable
// values. The sample task gets a fresh UUID on every run, so each run
// adds one more sample task per organization.
var orgs = []orgSpec{
	{"0190f0a0-0000-7000-8000-0000000000f1", "Seed Free Co", "free"},
	{"0190f0a0-0000-7000-8000-0000000000f2", "Seed Pro Co", "pro"},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	for _, spec := range orgs {
		secret := sha256.Sum256([]byte(spec.id + ":webhook-secret"))

		_, err := pool.Exec(ctx, `
			INSERT INTO organizations (id, name, tier, webhook_secret, monthly_execution_count, quota_month)
			VALUES ($1, $2, $3, $4, 0, date_trunc('month', NOW()))
			ON CONFLICT (id) DO NOTHING`,
			spec.id, spec.name, spec.tier, secret[:],
		)
		if err != nil {
			log.Fatalf("upsert organization %s: %v", spec.id, err)
		}

		taskID := uuid.Must(uuid.NewV7()).String()
		_, err = pool.Exec(ctx, `
			INSERT INTO tasks (
				id, organization_id, method, url, headers, body,
				timeout_seconds, retry_attempts, schedule_type, cron_expr,
				interval_minutes, next_run_at, enabled
			) VALUES ($1, $2, 'GET', 'https://httpbin.org/get', '{}', NULL,
				30, 3, 'cron', '*/5 * * * *', 5, NOW() + interval '1 minute', true)
			ON CONFLICT (id) DO NOTHING`,
			taskID, spec.id,
		)
		if err != nil {
			log.Fatalf("insert sample task for %s: %v", spec.id, err)
		}

		fmt.Printf("  Organization: %s tier=%-5s sample task=%s\n", spec.id, spec.tier, taskID)
	}

	fmt.Println()
	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Mint a local HS256 JWT whose org_id claim is the pro organization id")
	fmt.Println("  above, signed with JWT_SECRET, then:")
	fmt.Println()
	fmt.Println("    export JWT=eyJ...")
	fmt.Println("    curl -s http://localhost:8080/tasks -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  The sample cron task fires within 5 minutes; check its executions:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/tasks/TASK_ID/executions -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
}
