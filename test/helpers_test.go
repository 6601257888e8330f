package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"markpaste/cfg"
	"markpaste/svc/api"
	"markpaste/svc/cache"
	"markpaste/svc/db"
	"markpaste/svc/lim"
	"markpaste/svc/svc"
	"markpaste/svc/util"
)

const testAPIKey = "integration-analytics-key"

var envLoadOnce sync.Once

func TestMain(m *testing.M) {
	util.InitLog("disabled", false)
	os.Exit(m.Run())
}

func loadTestEnv() {
	envLoadOnce.Do(func() {
		for _, p := range []string{".env.test", "../.env.test"} {
			if absPath, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(absPath); err == nil {
					if err := godotenv.Load(absPath); err == nil {
						return
					}
				}
			}
		}
	})
}

func createTestConfig() *cfg.Cfg {
	loadTestEnv()
	c, err := cfg.Load()
	if err != nil {
		c = &cfg.Cfg{
			LRUCacheSize:    1000,
			MaxPasteSize:    512 * 1024,
			ContextTimeout:  5 * time.Second,
			CleanupInterval: time.Minute,
		}
	}
	c.Port = "0"
	c.Environment = "test"
	c.LogLevel = "disabled"
	c.StorageDriver = cfg.DriverSQLite
	c.DatabasePath = ":memory:"
	c.RedisURL = ""
	c.AMQPURL = cfg.NewSecret("")
	c.AnalyticsAPIKey = cfg.NewSecret(testAPIKey)
	c.TrustedProxies = nil
	c.RateLimit = cfg.RateLimitCfg{
		CreateQuota:  100000,
		CreateWindow: time.Hour,
		RPM:          100000,
		Burst:        10000,
	}
	return c
}

func createTestDB(t *testing.T, c *cfg.Cfg) *db.SQLite {
	t.Helper()
	// shared-cache memory databases return SQLITE_LOCKED to concurrent writers
	dsn := filepath.Join(t.TempDir(), "markpaste.db")
	maxOpenConns := c.DBMaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = 25
	}
	maxIdleConns := c.DBMaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	queryTimeout := c.DBQueryTimeout
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	sqlDB, err := db.NewSQLiteWithConfig(dsn, maxOpenConns, maxIdleConns, queryTimeout)
	if err != nil {
		t.Fatal(err)
	}
	return sqlDB
}

func createTestLRU(t *testing.T, size int) *cache.LRU {
	t.Helper()
	lru, err := cache.NewLRU(size)
	if err != nil {
		t.Fatal(err)
	}
	return lru
}

type testServer struct {
	*httptest.Server
	paste     *svc.Paste
	analytics *svc.Analytics
	store     *db.SQLite
}

func setupTestServer(t *testing.T, mutate ...func(*cfg.Cfg)) (*testServer, func()) {
	t.Helper()
	c := createTestConfig()
	for _, fn := range mutate {
		fn(c)
	}
	sqlDB := createTestDB(t, c)
	lru := createTestLRU(t, c.LRUCacheSize)
	limiter, err := lim.New(lim.Config{
		CreateQuota:    c.RateLimit.CreateQuota,
		CreateWindow:   c.RateLimit.CreateWindow,
		RPM:            c.RateLimit.RPM,
		Burst:          c.RateLimit.Burst,
		TrustedProxies: c.TrustedProxies,
	})
	if err != nil {
		t.Fatal(err)
	}
	pasteSvc := svc.NewPaste(sqlDB, lru, nil, c)
	analyticsSvc := svc.NewAnalytics(sqlDB, nil)
	server := api.NewServer(c, pasteSvc, analyticsSvc, limiter, sqlDB, nil)
	ts := &testServer{
		Server:    httptest.NewServer(server),
		paste:     pasteSvc,
		analytics: analyticsSvc,
		store:     sqlDB,
	}
	cleanup := func() {
		ts.Close()
		pasteSvc.Shutdown()
		limiter.Stop()
		sqlDB.Close()
	}
	return ts, cleanup
}

func postPaste(t *testing.T, baseURL, content string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"content": content})
	resp, err := http.Post(baseURL+"/paste", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func createPaste(t *testing.T, baseURL, content string) string {
	t.Helper()
	resp := postPaste(t, baseURL, content)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var created api.CreateResp
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created.ID
}
