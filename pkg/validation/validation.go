package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// streamSchemes are the network schemes the capture backend can open.
var streamSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"http":  true,
	"https": true,
	"udp":   true,
	"tcp":   true,
}

// ValidateStreamURL accepts a network stream address or a plain file path.
func ValidateStreamURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("stream URL is required")
	}
	if !strings.Contains(raw, "://") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid stream URL format: %w", err)
	}
	if !streamSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("unsupported stream URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("stream URL must have a host")
	}
	return nil
}

// ValidateURL validates an http(s) or ws(s) URL
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateConfidence checks a detection confidence threshold
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1], got %v", c)
	}
	return nil
}

// ValidateMaxFPS checks a throttle rate; zero disables throttling
func ValidateMaxFPS(fps float64) error {
	if fps < 0 {
		return fmt.Errorf("max fps must be >= 0, got %v", fps)
	}
	if fps > 240 {
		return fmt.Errorf("max fps is too high (max 240), got %v", fps)
	}
	return nil
}

// ValidateLimit validates a page size passed to the results API
func ValidateLimit(limit, max int) error {
	if limit < 1 {
		return fmt.Errorf("limit must be at least 1")
	}
	if limit > max {
		return fmt.Errorf("limit is too high (max %d)", max)
	}
	return nil
}

// ValidateClassList validates the vehicle class allow-list
func ValidateClassList(classes []string) error {
	if len(classes) == 0 {
		return fmt.Errorf("at least one vehicle class is required")
	}
	for _, class := range classes {
		if strings.TrimSpace(class) == "" {
			return fmt.Errorf("vehicle class must not be empty")
		}
	}
	return nil
}
