package domain

import (
	"strings"
	"time"
)

// DeviceInfo is the coarse client description shown in the session list.
type DeviceInfo struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
}

// Session is one device's refresh-token relationship with a user. Only the
// SHA-256 of the refresh token is kept.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"-"`
	TokenHash  string     `json:"-"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	IPAddress  string     `json:"ip"`
	UserAgent  string     `json:"-"`
	LastActive time.Time  `json:"lastActive"`
	IsActive   bool       `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Live reports whether the session is active and was used within ttl of now.
func (s *Session) Live(now time.Time, ttl time.Duration) bool {
	return s.IsActive && now.Sub(s.LastActive) <= ttl
}

// ParseUserAgent derives DeviceInfo from a User-Agent header.
func ParseUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{Browser: "Unknown", OS: "Unknown", Device: "Desktop"}
	if ua == "" {
		return info
	}

	switch {
	case strings.Contains(ua, "Firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "Edg"):
		info.Browser = "Edge"
	case strings.Contains(ua, "OPR"), strings.Contains(ua, "Opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "Chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "Safari"):
		info.Browser = "Safari"
	}

	// Mobile platforms embed desktop tokens ("like Mac OS X", "Linux"), so
	// they are checked first.
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iOS"):
		info.OS = "iOS"
	case strings.Contains(ua, "Android"):
		info.OS = "Android"
	case strings.Contains(ua, "Windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "Mac OS"):
		info.OS = "macOS"
	case strings.Contains(ua, "Linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		info.Device = "Tablet"
	case strings.Contains(ua, "Mobile"), strings.Contains(ua, "Android"):
		info.Device = "Mobile"
	}

	return info
}
