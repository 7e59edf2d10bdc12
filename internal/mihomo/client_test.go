package mihomo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, srv *httptest.Server, secret string) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(u.Hostname(), port, secret, 2*time.Second)
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" {
			json.NewEncoder(w).Encode(map[string]interface{}{"version": "1.18.0"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	assert.True(t, c.TestConnection(context.Background()))
}

func TestTestConnectionDown(t *testing.T) {
	c := NewClient("127.0.0.1", 1, "", 500*time.Millisecond)
	assert.False(t, c.TestConnection(context.Background()))
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"version": "1.18.0"})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "topsecret")
	require.True(t, c.TestConnection(context.Background()))
	assert.Equal(t, "Bearer topsecret", gotAuth)
}

func TestGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/configs", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mode":       "rule",
			"mixed-port": 7890,
			"allow-lan":  true,
		})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	cfg, err := c.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rule", cfg.Mode)
	assert.Equal(t, 7890, cfg.MixedPort)
	assert.True(t, cfg.AllowLan)
}

func TestReloadConfig(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	err := c.ReloadConfig(context.Background(), "/tmp/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/configs", gotPath)
	assert.Equal(t, "/tmp/config.yaml", gotBody["path"])
}

func TestReloadConfigFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	err := c.ReloadConfig(context.Background(), "/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestReloadConfigAndWait(t *testing.T) {
	var proxyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/configs":
			w.WriteHeader(http.StatusNoContent)
		case "/proxies":
			proxyCalls++
			if proxyCalls < 2 {
				json.NewEncoder(w).Encode(map[string]interface{}{"proxies": map[string]interface{}{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"proxies": map[string]interface{}{
					"PROXY": map[string]interface{}{"type": "Selector", "now": "node-a", "all": []string{"node-a"}},
				},
			})
		}
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	err := c.ReloadConfigAndWait(context.Background(), "/tmp/config.yaml", 3*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, proxyCalls, 2)
}

func TestGetProxyGroupsFiltersNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"proxies": map[string]interface{}{
				"PROXY":  map[string]interface{}{"type": "Selector", "now": "node-a", "all": []string{"node-a", "node-b"}},
				"auto":   map[string]interface{}{"type": "URLTest", "now": "node-b"},
				"node-a": map[string]interface{}{"type": "Shadowsocks"},
			},
		})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	groups, err := c.GetProxyGroups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Contains(t, groups, "PROXY")
	assert.Contains(t, groups, "auto")
	assert.Equal(t, []string{"node-a", "node-b"}, groups["PROXY"].All)
}

func TestSelectProxy(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	require.NoError(t, c.SelectProxy(context.Background(), "PROXY", "node-b"))
	assert.Equal(t, "/proxies/PROXY", gotPath)
	assert.Equal(t, "node-b", gotBody["name"])
}

func TestTestDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/proxies/HK%201/delay", r.URL.EscapedPath())
		require.Equal(t, "http://www.gstatic.com/generate_204", r.URL.Query().Get("url"))
		require.Equal(t, "5000", r.URL.Query().Get("timeout"))
		json.NewEncoder(w).Encode(map[string]interface{}{"delay": 142})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	delay, err := c.TestDelay(context.Background(), "HK 1", "http://www.gstatic.com/generate_204", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 142, delay)
}

func TestTestDelayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(w).Encode(map[string]interface{}{"message": "An error occurred in the delay test"})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	_, err := c.TestDelay(context.Background(), "HK 1", "http://example.com", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delay test")
}

func TestGetConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/connections", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uploadTotal":   1024,
			"downloadTotal": 4096,
			"connections":   []map[string]interface{}{{"id": "a"}, {"id": "b"}},
		})
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	stats, err := c.GetConnections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), stats.UploadTotal)
	assert.Equal(t, int64(4096), stats.DownloadTotal)
	assert.Equal(t, 2, stats.Active)
}

func TestCloseAllConnections(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := clientFor(t, srv, "")
	require.NoError(t, c.CloseAllConnections(context.Background()))
	assert.Equal(t, http.MethodDelete, gotMethod)
}
