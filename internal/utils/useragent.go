package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo is the parsed summary of a User-Agent header. Audit rows
// store this instead of the raw header, which can be arbitrarily long.
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent extracts device information from a User-Agent string
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)

	info := DeviceInfo{
		DeviceType: "desktop",
		IsBot:      parser.Bot(),
	}
	if parser.Mobile() {
		info.DeviceType = "mobile"
	}

	osInfo := parser.OSInfo()
	info.OS = osInfo.Name
	if osInfo.Version != "" {
		info.OS = osInfo.Name + " " + osInfo.Version
	}
	if info.OS == "" {
		info.OS = "Unknown"
	}

	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}
	info.Browser = name
	if version != "" {
		info.Browser = name + " " + version
	}

	return info
}

// SummarizeUserAgent condenses a User-Agent header into a short audit
// string like "Chrome 120 on Android 12 (mobile)".
func SummarizeUserAgent(userAgent string) string {
	info := ParseUserAgent(userAgent)
	var b strings.Builder
	b.WriteString(info.Browser)
	b.WriteString(" on ")
	b.WriteString(info.OS)
	b.WriteString(" (")
	b.WriteString(info.DeviceType)
	b.WriteString(")")
	if info.IsBot {
		b.WriteString(" [bot]")
	}
	return b.String()
}
