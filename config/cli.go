package config

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
)

type Cli struct {
	Mode        string
	HTTPAddress string

	APIKey        string
	AdminPassword string
	BaseURL       string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDatabase int

	UploadsDir string
	ContentDir string
	LogFile    string

	SegmentSizeSecs    int
	ThumbnailQuality   int
	ThumbnailMaxWidth  int
	ThumbnailMaxHeight int

	WebhookURL             string
	AllowedDownloadDomains []string
	VerifySSLDownloads     bool
	ParallelLimit          int
	AllowedOrigins         []string
}

// RedisAddr returns the host:port pair for the broker connection.
func (cli Cli) RedisAddr() string {
	return fmt.Sprintf("%s:%d", cli.RedisHost, cli.RedisPort)
}

// PublicURL joins path elements onto the configured base URL.
func (cli Cli) PublicURL(elem ...string) string {
	u, err := url.Parse(cli.BaseURL)
	if err != nil {
		return ""
	}
	return u.JoinPath(elem...).String()
}

func (cli Cli) Validate() error {
	switch cli.Mode {
	case "api", "worker", "all":
	default:
		return fmt.Errorf("invalid mode %q, must be one of: api, worker, all", cli.Mode)
	}
	if cli.APIKey == "" {
		return fmt.Errorf("an API key is required")
	}
	if cli.BaseURL == "" {
		return fmt.Errorf("a base URL is required to build public media URLs")
	}
	if _, err := url.Parse(cli.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if cli.WebhookURL != "" {
		u, err := url.Parse(cli.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid webhook URL %q", cli.WebhookURL)
		}
	}
	if cli.ThumbnailQuality < 0 || cli.ThumbnailQuality > 100 {
		return fmt.Errorf("thumbnail quality must be within [0,100], got %d", cli.ThumbnailQuality)
	}
	if cli.ParallelLimit < 1 {
		return fmt.Errorf("parallel limit must be at least 1, got %d", cli.ParallelLimit)
	}
	return nil
}

// handles -foo=value1,value2,value3
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, defaultValue []string, usage string) {
	*dest = defaultValue
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		split := strings.Split(s, ",")
		out := make([]string, 0, len(split))
		for _, v := range split {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dest = out
		return nil
	})
}
