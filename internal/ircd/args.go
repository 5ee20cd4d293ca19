package ircd

import (
	"flag"
	"fmt"
	"os"
)

// Args holds parsed command line flags, mirroring the teacher's args.go but
// trimmed of the TS6 server-name/SID flags this server has no use for.
type Args struct {
	ConfigFile string
	ListenHost string
	ListenPort string
}

// GetArgs parses os.Args, following the teacher's convention of a single
// top-level function callers invoke from main().
func GetArgs() (Args, error) {
	conf := flag.String("conf", "", "Path to a config file (optional; defaults apply if omitted).")
	host := flag.String("listen-host", "", "Override the config's listen host.")
	port := flag.String("listen-port", "", "Override the config's listen port.")

	flag.Usage = printUsage
	flag.Parse()

	return Args{
		ConfigFile: *conf,
		ListenHost: *host,
		ListenPort: *port,
	}, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [args]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Args:\n")
	flag.PrintDefaults()
}

// LoadConfig builds a Config from defaults, an optional file, and any CLI
// overrides, in that order of increasing priority.
func LoadConfig(args Args) (Config, error) {
	cfg := DefaultConfig()

	if args.ConfigFile != "" {
		if err := loadConfigFile(&cfg, args.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	if args.ListenHost != "" {
		cfg.ListenHost = args.ListenHost
	}
	if args.ListenPort != "" {
		cfg.ListenPort = args.ListenPort
	}

	return cfg, nil
}
