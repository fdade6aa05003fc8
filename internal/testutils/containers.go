// SPDX-License-Identifier: Apache-2.0

// Package testutils provides shared integration-test scaffolding: a single
// Postgres testcontainer for a whole test package, and helpers to carve out
// fresh source and target databases from it, since every partmove engine
// test needs both ends of a migration.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultPostgresVersion = "15.3"

var tConnStr string

// SharedTestMain starts a single Postgres container for every test in a
// package; individual tests carve out their own databases from it with
// NewDatabase or SourceAndTarget.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}

	tConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %v", err)
	}

	os.Exit(exitCode)
}

func randomDBName() string {
	const length = 15
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))] // #nosec G404
	}

	return "testdb_" + string(b)
}

// NewDatabase creates a fresh database in the shared container and returns
// an open connection to it along with its connection string.
func NewDatabase(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	tDB, err := sql.Open("postgres", tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	defer tDB.Close()

	dbName := randomDBName()
	_, err = tDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	return db, connStr
}

// SourceAndTarget returns two independent fresh databases within the
// shared container, modeling the (source, target) pair every migration
// scenario operates over.
func SourceAndTarget(t *testing.T) (srcDB *sql.DB, srcConnStr string, tgtDB *sql.DB, tgtConnStr string) {
	t.Helper()
	srcDB, srcConnStr = NewDatabase(t)
	tgtDB, tgtConnStr = NewDatabase(t)
	return srcDB, srcConnStr, tgtDB, tgtConnStr
}
