package test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"markpaste/cfg"
	"markpaste/svc/lim"
)

func TestRealIPSpoofingAttack(t *testing.T) {
	trusted, err := lim.ParseTrusted([]string{"10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	attacks := []struct {
		name       string
		remoteAddr string
		xff        string
		expectIP   string
	}{
		{
			name:       "Untrusted source spoofs single IP",
			remoteAddr: "192.168.1.100:1234",
			xff:        "1.1.1.1",
			expectIP:   "192.168.1.100",
		},
		{
			name:       "Untrusted source spoofs multiple IPs",
			remoteAddr: "192.168.1.100:1234",
			xff:        "2.2.2.2, 3.3.3.3",
			expectIP:   "192.168.1.100",
		},
		{
			name:       "Trusted proxy forwards client IP",
			remoteAddr: "10.0.0.1:5678",
			xff:        "4.4.4.4",
			expectIP:   "4.4.4.4",
		},
		{
			name:       "Mixed chain with untrusted IPs",
			remoteAddr: "10.0.0.1:5678",
			xff:        "5.5.5.5, 6.6.6.6, 10.0.0.1",
			expectIP:   "6.6.6.6",
		},
		{
			name:       "Empty XFF from trusted proxy",
			remoteAddr: "10.0.0.1:5678",
			xff:        "",
			expectIP:   "10.0.0.1",
		},
	}

	for _, attack := range attacks {
		t.Run(attack.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/paste", nil)
			req.RemoteAddr = attack.remoteAddr
			if attack.xff != "" {
				req.Header.Set("X-Forwarded-For", attack.xff)
			}
			extractedIP := lim.GetRealIP(req, trusted)
			if extractedIP != attack.expectIP {
				t.Errorf("IP spoofing bypass: got %s, expected %s (XFF: %s, RemoteAddr: %s)",
					extractedIP, attack.expectIP, attack.xff, attack.remoteAddr)
			}
		})
	}
}

// A direct client cannot reset its creation quota by rotating X-Forwarded-For.
func TestCreateQuotaSpoofResistance(t *testing.T) {
	ts, cleanup := setupTestServer(t, func(c *cfg.Cfg) {
		c.RateLimit.CreateQuota = 5
	})
	defer cleanup()

	codes := make([]int, 0, 7)
	for i := 0; i < 7; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/paste", bytes.NewReader([]byte(`{"content":"spoof"}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	for i, code := range codes {
		want := http.StatusCreated
		if i >= 5 {
			want = http.StatusTooManyRequests
		}
		if code != want {
			t.Errorf("request %d: got %d, want %d", i+1, code, want)
		}
	}
}

// Behind a trusted proxy each forwarded client gets its own quota.
func TestCreateQuotaBehindTrustedProxy(t *testing.T) {
	ts, cleanup := setupTestServer(t, func(c *cfg.Cfg) {
		c.RateLimit.CreateQuota = 1
		c.TrustedProxies = []string{"127.0.0.1", "::1"}
	})
	defer cleanup()

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/paste", bytes.NewReader([]byte(`{"content":"proxied"}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("client %d: got %d, want 201", i+1, resp.StatusCode)
		}
	}
}

func TestXFFHeaderDoS(t *testing.T) {
	trusted, err := lim.ParseTrusted([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	for _, ipCount := range []int{5, 50, 1000} {
		t.Run(fmt.Sprintf("%d_IPs", ipCount), func(t *testing.T) {
			ips := make([]string, ipCount)
			for i := 0; i < ipCount; i++ {
				ips[i] = fmt.Sprintf("10.%d.%d.%d", i/256/256, i/256%256, i%256)
			}
			req := httptest.NewRequest(http.MethodPost, "/paste", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			req.Header.Set("X-Forwarded-For", strings.Join(ips, ", "))

			start := time.Now()
			lim.GetRealIP(req, trusted)
			elapsed := time.Since(start)
			if elapsed > 100*time.Millisecond {
				t.Errorf("XFF processing too slow: %v (with %d IPs)", elapsed, ipCount)
			}
		})
	}
}
