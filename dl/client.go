package dl

import (
	"github.com/imroc/req/v3"
)

// newClient builds the one client shared by manifest and segment requests of a
// run, so they reuse the same connection pool.
func newClient(cfg Config) *req.Client {
	client := req.C().SetTimeout(cfg.Timeout)
	if cfg.Proxy != "" {
		client = client.SetProxyURL(cfg.Proxy)
	}
	if cfg.UserAgent != "" {
		client = client.SetUserAgent(cfg.UserAgent)
	}
	return client
}
