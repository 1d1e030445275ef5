// Package clientinfo derives browser, OS, device class and region for a visit.
package clientinfo

import (
	"net/netip"
	"strings"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/mssola/useragent"
)

const (
	Unknown  = "Unknown"
	Internal = "Internal"

	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceBot     = "Bot"
)

// Tokens that the parser folds into their host browser.
var embeddedBrowsers = []struct{ token, name string }{
	{"micromessenger", "WeChat"},
	{"qqbrowser", "QQ Browser"},
	{"ucbrowser", "UC Browser"},
}

// Classifier implements analytics.ClientClassifier.
type Classifier struct{}

var _ analytics.ClientClassifier = Classifier{}

func NewClassifier() Classifier { return Classifier{} }

// Classify never fails; anything it cannot identify is Unknown.
func (Classifier) Classify(userAgent, ipAddress string) analytics.ClientInfo {
	info := analytics.ClientInfo{
		Browser: Unknown,
		OS:      Unknown,
		Device:  DeviceDesktop,
		Region:  Region(ipAddress),
	}
	if strings.TrimSpace(userAgent) == "" {
		info.Device = Unknown
		return info
	}

	ua := useragent.New(userAgent)
	lower := strings.ToLower(userAgent)

	info.Browser = browserName(ua, lower)
	info.OS = osName(ua, lower)
	info.Device = deviceClass(ua, lower)
	return info
}

func browserName(ua *useragent.UserAgent, lower string) string {
	for _, b := range embeddedBrowsers {
		if strings.Contains(lower, b.token) {
			return b.name
		}
	}
	name, _ := ua.Browser()
	if name == "" {
		return Unknown
	}
	return name
}

func osName(ua *useragent.UserAgent, lower string) string {
	switch {
	case strings.Contains(lower, "iphone os"), strings.Contains(lower, "ipad"), strings.Contains(lower, "cpu os"):
		return "iOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "mac os x"):
		return "macOS"
	case strings.Contains(lower, "windows"):
		full := ua.OSInfo().FullName
		if strings.HasPrefix(full, "Windows ") && !strings.HasPrefix(full, "Windows NT") {
			return full
		}
		return "Windows"
	case strings.Contains(lower, "ubuntu"):
		return "Ubuntu"
	case strings.Contains(lower, "linux"):
		return "Linux"
	}
	if name := ua.OSInfo().Name; name != "" {
		return name
	}
	return Unknown
}

func deviceClass(ua *useragent.UserAgent, lower string) string {
	switch {
	case ua.Bot():
		return DeviceBot
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		return DeviceTablet
	case ua.Mobile(), strings.Contains(lower, "mobile"), strings.Contains(lower, "iphone"),
		strings.Contains(lower, "android"), strings.Contains(lower, "windows phone"):
		return DeviceMobile
	}
	return DeviceDesktop
}

// Region buckets an address. Without a geo database every public address is
// Unknown; private, loopback and link-local addresses are Internal.
func Region(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Unknown
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return Internal
	}
	return Unknown
}
