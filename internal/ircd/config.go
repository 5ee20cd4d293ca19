package ircd

import (
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration. Every field has a compile-time
// default (spec.md §6's "Config surface"); a config file, if given, may
// override any of them.
type Config struct {
	ListenHost  string
	ListenPort  string
	ServerName  string
	Version     string
	CreatedDate string
	MOTD        string

	MaxNickLength int

	// PingTime is how long a registered client may be idle before we send it
	// a PING.
	PingTime time.Duration

	// DeadTime is how long a client may stay silent after we send it a PING
	// before we consider it dead and disconnect it.
	DeadTime time.Duration

	// CooldownTime is the admission-control window: a reconnect from an IP
	// within this long of its last disconnect is refused.
	CooldownTime time.Duration

	// DisconnectRetention is how long the disconnect tracker remembers an
	// IP's last disconnect before the sweeper evicts it.
	DisconnectRetention time.Duration

	// SweepInterval is how often the background sweeper wakes up to evict
	// stale disconnect-tracker entries.
	SweepInterval time.Duration
}

// DefaultConfig returns the compile-time defaults from spec.md: port 6667,
// bind "::", 8s cooldown, 10 minute retention, 30s sweep interval, a PING
// after 60s of client silence, and a disconnect if nothing arrives within
// 150s of that PING.
func DefaultConfig() Config {
	return Config{
		ListenHost:          "::",
		ListenPort:          "6667",
		ServerName:          "server",
		Version:             "sumrelay-ircd",
		CreatedDate:         "today",
		MOTD:                "Welcome.",
		MaxNickLength:       15,
		PingTime:            60 * time.Second,
		DeadTime:            150 * time.Second,
		CooldownTime:        8 * time.Second,
		DisconnectRetention: 10 * time.Minute,
		SweepInterval:       30 * time.Second,
	}
}

// loadConfigFile overlays key/value pairs from a config file, in the same
// "key = value" format the teacher's github.com/horgh/config package reads,
// onto an existing Config. Any key not present in the file is left at its
// current (default) value — unlike the teacher, we don't require every key
// to be present, since spec.md treats these as constants with compile-time
// defaults and a file is an optional override.
func loadConfigFile(cfg *Config, path string) error {
	values, err := config.ReadStringMap(path)
	if err != nil {
		return errors.Wrapf(err, "unable to read config file %s", path)
	}

	setString(values, "listen-host", &cfg.ListenHost)
	setString(values, "listen-port", &cfg.ListenPort)
	setString(values, "server-name", &cfg.ServerName)
	setString(values, "version", &cfg.Version)
	setString(values, "created-date", &cfg.CreatedDate)
	setString(values, "motd", &cfg.MOTD)

	if v, exists := values["max-nick-length"]; exists {
		n, err := strconv.ParseInt(v, 10, 8)
		if err != nil {
			return errors.Wrap(err, "max-nick-length is not a valid integer")
		}
		cfg.MaxNickLength = int(n)
	}

	if err := setDuration(values, "ping-time", &cfg.PingTime); err != nil {
		return err
	}
	if err := setDuration(values, "dead-time", &cfg.DeadTime); err != nil {
		return err
	}
	if err := setDuration(values, "cooldown-time", &cfg.CooldownTime); err != nil {
		return err
	}
	if err := setDuration(values, "disconnect-retention", &cfg.DisconnectRetention); err != nil {
		return err
	}
	if err := setDuration(values, "sweep-interval", &cfg.SweepInterval); err != nil {
		return err
	}

	return nil
}

func setString(values map[string]string, key string, dst *string) {
	if v, exists := values[key]; exists && len(v) > 0 {
		*dst = v
	}
}

func setDuration(values map[string]string, key string, dst *time.Duration) error {
	v, exists := values[key]
	if !exists || len(v) == 0 {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid duration", key)
	}

	*dst = d
	return nil
}
