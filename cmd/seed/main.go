package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/argon2"
)

var (
	demoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	adminUserID  = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func main() {
	env := getEnv("EXC_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: EXC_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "exchange_core")
	user := getEnv("POSTGRES_USER", "exchange")
	password := getEnv("POSTGRES_PASSWORD", "exchange")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if err := seedLedgerAccounts(ctx, pool); err != nil {
		log.Fatalf("seed ledger accounts: %v", err)
	}
	fmt.Println("✓ Ledger accounts seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	fmt.Println("  Email: demo@example.com    Password: demo123")
	fmt.Println("  Email: trader@example.com  Password: trader123")
	fmt.Println("  Email: admin@example.com   Password: admin123 (role: admin)")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	params := argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}

	users := []struct {
		id       uuid.UUID
		email    string
		password string
		roles    []string
	}{
		{demoUserID, "demo@example.com", "demo123", []string{"user"}},
		{traderUserID, "trader@example.com", "trader123", []string{"user"}},
		{adminUserID, "admin@example.com", "admin123", []string{"user", "admin"}},
	}

	for _, u := range users {
		hash, err := hashPassword(u.password, params)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.email, err)
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, totp_secret, roles)
			VALUES ($1, $2, $3, '', $4)
			ON CONFLICT (email) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
			    roles = EXCLUDED.roles
		`, u.id, u.email, hash, u.roles)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedLedgerAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	balances := map[uuid.UUID]map[string]string{
		demoUserID: {
			"BTC":  "10",
			"ETH":  "100",
			"USDT": "100000",
		},
		traderUserID: {
			"BTC":  "5",
			"ETH":  "50",
			"USDT": "50000",
		},
	}

	for userID, assets := range balances {
		for asset, balance := range assets {
			_, err := pool.Exec(ctx, `
				INSERT INTO ledger_accounts (id, user_id, asset, balance, locked, updated_at)
				VALUES ($1, $2, $3, $4, 0, now())
				ON CONFLICT (user_id, asset) DO UPDATE
				SET balance = EXCLUDED.balance,
				    locked = 0,
				    updated_at = now()
			`, uuid.New(), userID, asset, balance)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
