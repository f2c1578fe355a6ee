package botdetect

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

// Fingerprint is what the browser collector reports about its environment.
// Nil slices and pointers mean "not reported".
type Fingerprint struct {
	Platform            string   `json:"platform,omitempty"`
	Language            string   `json:"language,omitempty"`
	Timezone            string   `json:"timezone,omitempty"`
	ScreenResolution    string   `json:"screenResolution,omitempty"`
	ColorDepth          int      `json:"colorDepth,omitempty"`
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        *float64 `json:"deviceMemory,omitempty"`
	WebDriver           bool     `json:"webDriver"`
	Phantom             bool     `json:"phantom"`
	Selenium            bool     `json:"selenium"`
	Puppeteer           bool     `json:"puppeteer"`
	Headless            bool     `json:"headless"`
	Plugins             []string `json:"plugins,omitempty"`
	WebGL               string   `json:"webgl,omitempty"`
	Canvas              string   `json:"canvas,omitempty"`
}

// Signals are the static inputs to a classification.
type Signals struct {
	UserAgent   string
	IPAddress   string
	Fingerprint *Fingerprint
}

// finding is one component's verdict.
type finding struct {
	method     string
	flagged    bool
	confidence float64
	reasons    []string
}

func (f *finding) raise(conf float64, reason string) {
	f.reasons = append(f.reasons, reason)
	if conf > f.confidence {
		f.confidence = conf
	}
}

func (f *finding) settle() finding {
	f.flagged = f.confidence > 0.6
	return *f
}

// Detection method names.
const (
	MethodUserAgent   = "User-Agent Analysis"
	MethodFingerprint = "Browser Fingerprint"
	MethodBehavior    = "Behavioral Analysis"
	MethodNetwork     = "Network Analysis"
	MethodTiming      = "Timing Analysis"
	MethodDevTools    = "DevTools Indicator"
)

var (
	reHeadlessChrome = regexp.MustCompile(`(?i)HeadlessChrome`)
	rePhantomJS      = regexp.MustCompile(`(?i)PhantomJS`)
	reSelenium       = regexp.MustCompile(`(?i)selenium|webdriver`)
	rePuppeteer      = regexp.MustCompile(`(?i)puppeteer`)
	reAutomation     = regexp.MustCompile(`(?i)automation|automated|bot|crawler|spider|scraper`)
	reBareMozilla    = regexp.MustCompile(`^Mozilla/5\.0$`)

	legitimateCrawlers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)googlebot`),
		regexp.MustCompile(`(?i)bingbot`),
		regexp.MustCompile(`(?i)slurp`),
		regexp.MustCompile(`(?i)duckduckbot`),
		regexp.MustCompile(`(?i)baiduspider`),
		regexp.MustCompile(`(?i)yandexbot`),
		regexp.MustCompile(`(?i)facebookexternalhit`),
		regexp.MustCompile(`(?i)twitterbot`),
		regexp.MustCompile(`(?i)linkedinbot`),
		regexp.MustCompile(`(?i)whatsapp`),
		regexp.MustCompile(`(?i)telegram`),
	}

	browserTokens = []string{"Mozilla", "Chrome", "Firefox", "Safari", "Edge"}
)

// IsLegitimateCrawler reports whether ua belongs to a known search or social crawler.
func IsLegitimateCrawler(ua string) bool {
	for _, re := range legitimateCrawlers {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

func analyzeUserAgent(ua string, cfg Config) finding {
	f := finding{method: MethodUserAgent}
	if strings.TrimSpace(ua) == "" {
		f.raise(0.9, "Empty user agent")
		return f.settle()
	}

	lower := strings.ToLower(ua)
	for _, w := range cfg.WhitelistedUserAgents {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return finding{method: MethodUserAgent, reasons: []string{"Whitelisted user agent"}}
		}
	}
	for _, b := range cfg.BlacklistedUserAgents {
		if b != "" && strings.Contains(lower, strings.ToLower(b)) {
			f.raise(0.8, "Blacklisted user agent: "+b)
		}
	}

	if reHeadlessChrome.MatchString(ua) {
		f.raise(0.9, "Headless Chrome detected")
	}
	if rePhantomJS.MatchString(ua) {
		f.raise(0.9, "PhantomJS detected")
	}
	if reSelenium.MatchString(ua) {
		f.raise(0.8, "Selenium WebDriver detected")
	}
	if rePuppeteer.MatchString(ua) {
		f.raise(0.8, "Puppeteer detected")
	}
	if IsLegitimateCrawler(ua) {
		return finding{method: MethodUserAgent, flagged: true, confidence: 0.9, reasons: []string{"Legitimate bot detected"}}
	}
	if reAutomation.MatchString(ua) {
		f.raise(0.7, "Automation tool detected in user agent")
	}
	if reBareMozilla.MatchString(ua) {
		f.raise(0.6, "Suspicious user agent pattern")
	}
	if len(ua) < 10 || len(ua) > 500 {
		f.raise(0.4, "Unusual user agent length")
	}

	hasToken := false
	for _, tok := range browserTokens {
		if strings.Contains(ua, tok) {
			hasToken = true
			break
		}
	}
	if !hasToken {
		f.raise(0.5, "Missing common browser indicators")
	}
	return f.settle()
}

func analyzeFingerprint(fp Fingerprint) finding {
	f := finding{method: MethodFingerprint}
	if fp.WebDriver {
		f.raise(0.9, "WebDriver property detected")
	}
	if fp.Headless {
		f.raise(0.9, "Headless browser detected")
	}
	if fp.Phantom {
		f.raise(0.9, "PhantomJS detected")
	}
	if fp.Selenium {
		f.raise(0.9, "Selenium detected")
	}
	if fp.Puppeteer {
		f.raise(0.9, "Puppeteer detected")
	}
	if fp.Plugins != nil && len(fp.Plugins) == 0 {
		f.raise(0.4, "No browser plugins detected")
	}

	var w, h int
	if _, err := fmt.Sscanf(fp.ScreenResolution, "%dx%d", &w, &h); err == nil && w == 1024 && h == 768 {
		f.raise(0.5, "Default headless screen resolution")
	}
	if fp.HardwareConcurrency == 1 {
		f.raise(0.3, "Single core detected (possible emulation)")
	}
	if fp.DeviceMemory == nil {
		f.raise(0.2, "Device memory not available")
	}
	if fp.Timezone == "UTC" {
		f.raise(0.3, "UTC timezone (possible headless)")
	}
	if len(fp.WebGL) < 10 {
		f.raise(0.4, "Missing or invalid WebGL fingerprint")
	}
	if len(fp.Canvas) < 10 {
		f.raise(0.4, "Missing or invalid Canvas fingerprint")
	}
	return f.settle()
}

func analyzeNetwork(ip string) finding {
	f := finding{method: MethodNetwork}
	parsed := net.ParseIP(ip)
	if parsed != nil && (parsed.IsLoopback() || parsed.IsPrivate()) {
		f.raise(0.3, "Private/localhost IP detected")
	}
	return f.settle()
}

func analyzeTiming(p domain.BehaviorPattern) finding {
	f := finding{method: MethodTiming}
	total := p.TotalActions()
	d := p.Duration()

	if d < 5*time.Second && total > 50 {
		f.raise(0.7, "Too many actions in short time")
	}

	if len(p.Clicks) > 3 {
		intervals := p.ClickIntervalsMs()
		var sum float64
		for _, iv := range intervals {
			sum += iv
		}
		avg := sum / float64(len(intervals))
		var sq float64
		for _, iv := range intervals {
			sq += (iv - avg) * (iv - avg)
		}
		if sq/float64(len(intervals)) < 100 {
			f.raise(0.8, "Perfectly regular click intervals")
		}
	}

	if d > 0 && total > 1 {
		if rate := float64(total) / d.Seconds(); rate > 20 {
			f.raise(0.9, fmt.Sprintf("Inhuman action rate: %.1f/sec", rate))
		}
	}
	return f.settle()
}
