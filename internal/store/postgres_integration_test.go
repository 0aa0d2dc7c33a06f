// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatekeep/gatekeep/internal/store"
)

// setupPostgresContainer starts a migrated PostgreSQL container.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeep_test"),
		postgres.WithUsername("gatekeep"),
		postgres.WithPassword("gatekeep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.DefaultPoolConfig(), nil)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

var _ = Describe("Schema", Ordered, func() {
	var (
		pool    *pgxpool.Pool
		cleanup func()
		ctx     = context.Background()
	)

	BeforeAll(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		cleanup()
	})

	insertUser := func(email string) (string, error) {
		id := ulid.Make().String()
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, email, display_name) VALUES ($1, $2, 'Someone')`, id, email)
		return id, err
	}

	Describe("Connect", func() {
		It("answers the readiness ping", func() {
			Expect(store.Ping(ctx, pool)).To(Succeed())
		})
	})

	Describe("users", func() {
		It("rejects emails that differ only by case", func() {
			_, err := insertUser("case@example.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = insertUser("CASE@example.com")
			Expect(err).To(HaveOccurred())
		})

		It("requires a hash when a password is required", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO users (id, email, display_name, password_required)
				VALUES ($1, 'nohash@example.com', 'NoHash', TRUE)
			`, ulid.Make().String())
			Expect(err).To(HaveOccurred())
		})

		It("defaults to an empty refresh slot", func() {
			id, err := insertUser("slot@example.com")
			Expect(err).NotTo(HaveOccurred())

			var (
				refresh, access string
				failures        int
				lockedUntil     *time.Time
			)
			Expect(pool.QueryRow(ctx, `
				SELECT refresh_token, access_token, failed_attempts, locked_until FROM users WHERE id = $1
			`, id).Scan(&refresh, &access, &failures, &lockedUntil)).To(Succeed())
			Expect(refresh).To(BeEmpty())
			Expect(access).To(BeEmpty())
			Expect(failures).To(BeZero())
			Expect(lockedUntil).To(BeNil())
		})

		It("rejects a negative failure counter", func() {
			id, err := insertUser("negative@example.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `UPDATE users SET failed_attempts = -1 WHERE id = $1`, id)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("otp_tokens", func() {
		It("rejects unknown purposes", func() {
			userID, err := insertUser("purpose@example.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `
				INSERT INTO otp_tokens (id, user_id, purpose, token_hash, expires_at)
				VALUES ($1, $2, 'MAGIC_LINK', 'h-purpose', NOW() + INTERVAL '1 hour')
			`, ulid.Make().String(), userID)
			Expect(err).To(HaveOccurred())
		})

		It("cascades deletes from users", func() {
			userID, err := insertUser("cascade@example.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `
				INSERT INTO otp_tokens (id, user_id, purpose, token_hash, expires_at)
				VALUES ($1, $2, 'VERIFY_EMAIL', 'h-cascade', NOW() + INTERVAL '1 hour')
			`, ulid.Make().String(), userID)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM otp_tokens WHERE user_id = $1`, userID).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})
	})
})
