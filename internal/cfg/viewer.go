package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// ViewerConfig holds the configuration of the viewer process, which
// follows the event stream and keeps a local projection of engine
// state.
type ViewerConfig struct {
	ServerURL        string
	AuthToken        string
	Channels         string
	ReconnectSeconds int
}

// RegisterFlags binds ViewerConfig fields to the given FlagSet with defaults inline
func (c *ViewerConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server-url", "http://localhost:8080", "base URL of the engine API")
	fs.StringVar(&c.AuthToken, "auth-token", "", "bearer token for snapshot fetches")
	fs.StringVar(&c.Channels, "channels", "incidents,alerts", "comma-separated broadcast channels to subscribe to")
	fs.IntVar(&c.ReconnectSeconds, "reconnect-seconds", 5, "fixed delay between reconnect attempts (1..60)")
}

// Validate checks all configuration fields for correctness.
func (c *ViewerConfig) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("invalid SERVER_URL %q (must be http:// or https://)", c.ServerURL))
	}
	if c.AuthToken == "" {
		errs = append(errs, errors.New("AUTH_TOKEN is required"))
	}
	if c.Channels == "" {
		errs = append(errs, errors.New("CHANNELS must name at least one channel"))
	}
	if c.ReconnectSeconds <= 0 || c.ReconnectSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid RECONNECT_SECONDS %d (must be 1..60)", c.ReconnectSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
