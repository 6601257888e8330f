package db

import (
	"context"
	"os"
	"testing"
	"time"

	"markpaste/cfg"
)

func TestRedisPasteCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r, err := NewRedis(url, &cfg.Cfg{RedisTimeout: time.Second})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	p := testPaste("redis001", time.Now().UTC().Truncate(time.Millisecond))

	if err := r.CachePaste(ctx, p, time.Minute); err != nil {
		t.Fatalf("CachePaste: %v", err)
	}
	got, err := r.GetPaste(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("GetPaste = %v, %v", got, err)
	}
	if got.Content != p.Content || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("GetPaste = %+v, want %+v", got, p)
	}
	if err := r.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = r.GetPaste(ctx, p.ID)
	if err != nil || got != nil {
		t.Errorf("after delete GetPaste = %v, %v", got, err)
	}
	if err := r.CachePaste(ctx, p, 0); err != nil {
		t.Errorf("CachePaste with zero ttl = %v", err)
	}
	if err := r.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
