package collector

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Platform identifies which fetcher handles a job's URL.
type Platform string

// Platforms routed by the orchestrator.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformWeb       Platform = "web"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch`),
	regexp.MustCompile(`youtu\.be/`),
	regexp.MustCompile(`youtube\.com/shorts/`),
	regexp.MustCompile(`youtube\.com/channel/`),
	regexp.MustCompile(`youtube\.com/c/`),
	regexp.MustCompile(`youtube\.com/user/`),
}

var instagramPatterns = []*regexp.Regexp{
	regexp.MustCompile(`instagram\.com/p/`),
	regexp.MustCompile(`instagram\.com/reel/`),
	regexp.MustCompile(`instagram\.com/tv/`),
	regexp.MustCompile(`instagram\.com/[\w.-]+/?$`),
}

// DetectPlatform maps a URL to the platform whose fetcher should handle it.
// URLs that match no known pattern fall back to the generic web platform.
func DetectPlatform(rawURL string) Platform {
	for _, p := range youtubePatterns {
		if p.MatchString(rawURL) {
			return PlatformYouTube
		}
	}
	for _, p := range instagramPatterns {
		if p.MatchString(rawURL) {
			return PlatformInstagram
		}
	}
	return PlatformWeb
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url missing host")
	}
	return nil
}
