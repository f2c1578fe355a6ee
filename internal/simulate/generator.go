// Package simulate generates synthetic browser sessions and replays them
// against a running API.
package simulate

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/nesthaus/riskengine/internal/botdetect"
	"github.com/nesthaus/riskengine/internal/engine"
)

// botInterval is the fixed cadence of scripted input.
const botInterval = 50 * time.Millisecond

var headlessAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/118.0.5993.88 Safari/537.36",
}

// Generator builds collector batches for human-like and scripted sessions.
type Generator struct {
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewGenerator creates a generator. The same seed yields the same sessions.
func NewGenerator(seed uint64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{faker: gofakeit.New(seed), now: now}
}

// SessionID returns a fresh random session id.
func (g *Generator) SessionID() string {
	return "sim-" + g.faker.UUID()
}

// Human returns a batch with irregular pointer paths, varied key timings and a
// consistent desktop fingerprint.
func (g *Generator) Human(sessionID string, events int) engine.Batch {
	f := g.faker
	at := g.now().Add(-time.Duration(events) * 700 * time.Millisecond)
	x, y := f.Number(100, 900), f.Number(100, 600)

	out := make([]engine.TrackedEvent, 0, events)
	for i := 0; i < events; i++ {
		at = at.Add(time.Duration(f.Number(40, 700)) * time.Millisecond)
		switch roll := f.Number(0, 99); {
		case roll < 60:
			x = clamp(x+f.Number(-80, 80), 0, 1920)
			y = clamp(y+f.Number(-60, 60), 0, 1080)
			out = append(out, engine.TrackedEvent{Kind: engine.KindMouse, X: x, Y: y, T: at})
		case roll < 80:
			out = append(out, engine.TrackedEvent{
				Kind:       engine.KindKeystroke,
				Key:        f.Letter(),
				DurationMs: f.Float64Range(60, 220),
				T:          at,
			})
		case roll < 90:
			out = append(out, engine.TrackedEvent{
				Kind:      engine.KindClick,
				X:         x,
				Y:         y,
				TargetTag: f.RandomString([]string{"BUTTON", "A", "INPUT", "DIV"}),
				TargetID:  f.Word(),
				T:         at,
			})
		default:
			out = append(out, engine.TrackedEvent{Kind: engine.KindScroll, X: 0, Y: f.Number(0, 4000), T: at})
		}
	}

	memory := float64(f.RandomInt([]int{4, 8, 16}))
	return engine.Batch{
		SessionID: sessionID,
		Events:    out,
		Fingerprint: &botdetect.Fingerprint{
			Platform:            f.RandomString([]string{"Win32", "MacIntel", "Linux x86_64"}),
			Language:            f.RandomString([]string{"en-US", "de-DE", "fr-FR", "es-ES"}),
			Timezone:            f.TimeZoneRegion(),
			ScreenResolution:    f.RandomString([]string{"1920x1080", "2560x1440", "1440x900"}),
			ColorDepth:          24,
			HardwareConcurrency: f.RandomInt([]int{4, 8, 12, 16}),
			DeviceMemory:        &memory,
			Plugins:             []string{"PDF Viewer", "Chrome PDF Viewer"},
			WebGL:               "ANGLE (" + f.Company() + " Graphics)",
			Canvas:              fmt.Sprintf("canvas-%x", f.Uint32()),
		},
		UserAgent: f.ChromeUserAgent(),
		IPAddress: f.IPv4Address(),
	}
}

// Bot returns a batch with straight-line pointer movement, metronomic key
// timing and an automation fingerprint.
func (g *Generator) Bot(sessionID string, events int) engine.Batch {
	f := g.faker
	start := g.now().Add(-time.Duration(events) * botInterval)

	out := make([]engine.TrackedEvent, 0, events)
	for i := 0; i < events; i++ {
		at := start.Add(time.Duration(i) * botInterval)
		if i%4 == 3 {
			out = append(out, engine.TrackedEvent{Kind: engine.KindKeystroke, Key: "a", DurationMs: 50, T: at})
			continue
		}
		out = append(out, engine.TrackedEvent{Kind: engine.KindMouse, X: 10 * i, Y: 5 * i, T: at})
	}

	return engine.Batch{
		SessionID: sessionID,
		Events:    out,
		Fingerprint: &botdetect.Fingerprint{
			Platform:            "Linux x86_64",
			Language:            "en-US",
			Timezone:            "UTC",
			ScreenResolution:    "1024x768",
			HardwareConcurrency: 1,
			WebDriver:           true,
			Headless:            true,
			Plugins:             []string{},
		},
		UserAgent: f.RandomString(headlessAgents),
		IPAddress: f.IPv4Address(),
	}
}

func clamp(v, lo, hi int) int {
	return int(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
}
