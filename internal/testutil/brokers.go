package testutil

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis returns a client on a flushed Redis DB reserved for this test.
// REDIS_ADDR wins; otherwise redis:6379, localhost:6379 and localhost:56379 are tried.
// The caller closes the client.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, err := findTestRedis()
	if err != nil {
		if requireRedis() {
			t.Fatal("Redis not available for testing:", err)
		}
		t.Skip("Redis not available for testing:", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: selectTestRedisDB(t, addr)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		closeAndLog(t, "redis client", client)
		t.Fatalf("Failed to flush test Redis DB at %s: %v", addr, err)
	}
	return client
}

func findTestRedis() (string, error) {
	candidates := []string{"redis:6379", "localhost:6379", "localhost:56379"}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		candidates = []string{addr}
	}

	var lastErr error
	for _, addr := range candidates {
		client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		_ = client.Close()
		if lastErr == nil {
			return addr, nil
		}
	}
	return "", lastErr
}

// selectTestRedisDB reserves a DB index so parallel packages do not flush each
// other. TEST_REDIS_DB overrides; reservations live in DB 0 which tests never flush.
func selectTestRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("Invalid TEST_REDIS_DB=%q, falling back to auto-select", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeAndLog(t, "redis meta client", meta)

	for i := 1; i <= 15; i++ {
		lockKey := fmt.Sprintf("assessd:testutil:db_lock:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, lockKey, os.Getpid(), 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		if tc, hasCleanup := any(t).(interface{ Cleanup(func()) }); hasCleanup {
			tc.Cleanup(func() { releaseRedisDB(t, addr, lockKey) })
		}
		return i
	}

	t.Logf("Falling back to Redis DB=1 for tests at %s", addr)
	return 1
}

func releaseRedisDB(t TestingTB, addr, lockKey string) {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeAndLog(t, "redis cleanup client", c)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Del(ctx, lockKey).Err(); err != nil {
		t.Logf("warning: failed to release redis db lock %s: %v", lockKey, err)
	}
}

func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// NATSURL returns the NATS server for broker tests, skipping when none is reachable.
func NATSURL(t TestingTB) string {
	t.Helper()

	addr := getEnvOrDefault("TEST_NATS_URL", "nats://localhost:54222")
	u, err := url.Parse(addr)
	if err == nil {
		var conn net.Conn
		if conn, err = net.DialTimeout("tcp", u.Host, time.Second); err == nil {
			_ = conn.Close()
			return addr
		}
	}
	if envBool("TEST_REQUIRE_NATS") || envBool("TEST_REQUIRE_INFRA") {
		t.Fatalf("NATS not available at %s: %v", addr, err)
	}
	t.Skipf("NATS not available at %s: %v", addr, err)
	return ""
}
