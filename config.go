package drizzle

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for Client.
type Config struct {
	// Downloaded files are written into this directory.
	DataDir string `yaml:"data-dir"`
	// Finished downloads are recorded in this database. Empty disables recording.
	StatsDatabase string `yaml:"stats-database"`
	// Port number sent to the tracker. No connections are accepted on this port.
	Port uint16 `yaml:"port"`

	// Number of workers downloading pieces concurrently. Each worker uses a single peer.
	Workers int `yaml:"workers"`
	// Max number of blocks requested from a peer but not received yet.
	MaxBacklog int `yaml:"max-backlog"`
	// Max number of times the worker pool is restarted to retry pieces left over by failed workers.
	MaxRounds int `yaml:"max-rounds"`
	// Limits the total rate of received piece data in bytes per second. Zero means no limit.
	DownloadRateLimit int64 `yaml:"download-rate-limit"`

	// Time to wait for TCP connection to open.
	ConnectTimeout time.Duration `yaml:"connect-timeout"`
	// Max time between two received bytes of a handshake or a message.
	GapTimeout time.Duration `yaml:"gap-timeout"`
	// Time to wait for the peer to unchoke us after we send interested.
	UnchokeTimeout time.Duration `yaml:"unchoke-timeout"`
	// Time to wait for outstanding requests to be answered. Zero waits until the connection is closed.
	RequestTimeout time.Duration `yaml:"request-timeout"`

	// Number of peer addresses to request in announce request.
	TrackerNumWant int `yaml:"tracker-num-want"`
	// Total time to wait for a response to an HTTP tracker request.
	TrackerTimeout time.Duration `yaml:"tracker-timeout"`
	// Failed announces are retried until this much time has passed.
	TrackerRetryTimeout time.Duration `yaml:"tracker-retry-timeout"`
}

// DefaultConfig for Client. LoadConfig overrides these values with the ones in the config file.
var DefaultConfig = Config{
	DataDir:       ".",
	StatsDatabase: "~/.drizzle/stats.db",
	Port:          6881,

	Workers:           25,
	MaxBacklog:        5,
	MaxRounds:         3,
	DownloadRateLimit: 0,

	ConnectTimeout: 5 * time.Second,
	GapTimeout:     5 * time.Second,
	UnchokeTimeout: time.Minute,
	RequestTimeout: 0,

	TrackerNumWant:      100,
	TrackerTimeout:      30 * time.Second,
	TrackerRetryTimeout: 2 * time.Minute,
}

// LoadConfig reads the YAML file at filename on top of DefaultConfig.
// DefaultConfig is returned if the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expandPaths() error {
	var err error
	c.DataDir, err = homedir.Expand(c.DataDir)
	if err != nil {
		return err
	}
	if c.StatsDatabase != "" {
		c.StatsDatabase, err = homedir.Expand(c.StatsDatabase)
	}
	return err
}
