// Package configs for work with configurations
package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 8083
	defaultDataDir      = "var/podserve"
	defaultConcurrency  = 2
	defaultMaxRetries   = 3
	defaultRetryBackoff = Duration(5 * time.Second)
	defaultFetchTimeout = Duration(15 * time.Minute)
	defaultScanEvery    = Duration(time.Minute)
)

// Duration adds yaml support for the "90s"/"5m" syntax, which yaml.v3 does
// not give time.Duration out of the box.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Conf for config yaml
type Conf struct {
	Server struct {
		Port    int    `yaml:"port"`
		Host    string `yaml:"host"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`
	Podcast struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Author      string `yaml:"author"`
		Language    string `yaml:"language"`
		Category    string `yaml:"category"`
		ImageURL    string `yaml:"image_url"`
	} `yaml:"podcast"`
	Storage struct {
		DataDir  string `yaml:"data_dir"`
		AudioDir string `yaml:"audio_dir"`
	} `yaml:"storage"`
	Watch struct {
		File      string   `yaml:"file"`
		Enabled   *bool    `yaml:"enabled"`
		ScanEvery Duration `yaml:"scan_every"`
	} `yaml:"watch"`
	Download struct {
		Concurrency  int      `yaml:"concurrency"`
		MaxRetries   int      `yaml:"max_retries"`
		RetryBackoff Duration `yaml:"retry_backoff"`
		Timeout      Duration `yaml:"timeout"`
		AutoInstall  bool     `yaml:"auto_install"`
	} `yaml:"download"`
	CloudStorage struct {
		EndPointURL string `yaml:"endpoint_url"`
		Bucket      string `yaml:"bucket"`
		Region      string `yaml:"region"`
		Secrets     struct {
			Key    string `yaml:"aws_key"`
			Secret string `yaml:"aws_secret"`
		} `yaml:"secrets"`
	} `yaml:"cloud_storage"`
}

// Load config from file, apply defaults and normalize paths. A missing file
// is not an error, defaults are returned.
func Load(fileName string) (*Conf, error) {
	res := &Conf{}
	data, err := os.ReadFile(fileName) // nolint
	if err != nil {
		if os.IsNotExist(err) {
			res.applyDefaults()
			return res, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", fileName, err)
	}
	res.applyDefaults()

	if res.Download.Concurrency < 1 {
		return nil, fmt.Errorf("invalid download.concurrency: %d (must be >= 1)", res.Download.Concurrency)
	}
	return res, nil
}

// WatchEnabled reports whether the queue file should be watched, on by default.
func (c *Conf) WatchEnabled() bool {
	return c.Watch.Enabled == nil || *c.Watch.Enabled
}

// CloudEnabled reports whether episodes should be mirrored to s3 storage.
func (c *Conf) CloudEnabled() bool {
	return c.CloudStorage.EndPointURL != "" && c.CloudStorage.Bucket != ""
}

func (c *Conf) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Podcast.Title == "" {
		c.Podcast.Title = "My Podcast"
	}
	if c.Podcast.Description == "" {
		c.Podcast.Description = "Audio podcast episodes"
	}
	if c.Podcast.Author == "" {
		c.Podcast.Author = "podserve"
	}
	if c.Podcast.Language == "" {
		c.Podcast.Language = "en-us"
	}
	if c.Podcast.Category == "" {
		c.Podcast.Category = "Technology"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaultDataDir
	}
	c.Storage.DataDir = absPath(c.Storage.DataDir)
	if c.Storage.AudioDir == "" {
		c.Storage.AudioDir = filepath.Join(c.Storage.DataDir, "audio")
	}
	c.Storage.AudioDir = absPath(c.Storage.AudioDir)
	if c.Watch.File == "" {
		c.Watch.File = filepath.Join(c.Storage.DataDir, "urls.txt")
	}
	c.Watch.File = absPath(c.Watch.File)
	if c.Watch.ScanEvery <= 0 {
		c.Watch.ScanEvery = defaultScanEvery
	}
	if c.Download.Concurrency == 0 {
		c.Download.Concurrency = defaultConcurrency
	}
	if c.Download.MaxRetries == 0 {
		c.Download.MaxRetries = defaultMaxRetries
	}
	if c.Download.RetryBackoff <= 0 {
		c.Download.RetryBackoff = defaultRetryBackoff
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = defaultFetchTimeout
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
