package deadside

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"deadfeed/internal/events"

	"github.com/pterm/pterm"
)

// Deadside.log lines carry an engine prefix:
//
//	[2024.05.12-13.02.22:123][456]LogSFPS: Mission MIS_Blackout switched to ACTIVE
//
// The bracketed timestamp is optional on some provider builds; when
// absent the classifier stamps the event with the current time. File
// order is causal order, so events are never reordered by timestamp.
var linePrefix = regexp.MustCompile(`^\[(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}):\d+\]\[\s*\d+\]`)

// Matcher recognizes one line shape and builds its event. Matchers
// are tried in registration order; the first match wins.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(m []string, event *events.LogEvent)
}

// Registry is the pluggable classifier over server-log lines. New
// shapes are supported by registering another matcher; unrecognized
// lines are skipped silently.
type Registry struct {
	logger   *pterm.Logger
	matchers []Matcher
}

func NewRegistry(logger *pterm.Logger) *Registry {
	r := &Registry{logger: logger}
	r.registerDefaults()
	return r
}

// Register appends a matcher to the classification order.
func (r *Registry) Register(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Classify converts a raw line into a LogEvent. The second return is
// false when no registered shape matches.
func (r *Registry) Classify(serverKey, line string) (events.LogEvent, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return events.LogEvent{}, false
	}

	timestamp := time.Now().UTC()
	if m := linePrefix.FindStringSubmatch(line); m != nil {
		if ts, err := time.Parse("2006.01.02-15.04.05", m[1]); err == nil {
			timestamp = ts
		}
		line = line[len(m[0]):]
	}

	for _, matcher := range r.matchers {
		m := matcher.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		event := events.LogEvent{
			ServerKey: serverKey,
			Timestamp: timestamp,
		}
		matcher.Build(m, &event)
		r.logger.Trace("Classified log line",
			r.logger.Args("matcher", matcher.Name, "kind", string(event.Kind)))
		return event, true
	}
	return events.LogEvent{}, false
}

func (r *Registry) registerDefaults() {
	r.Register(Matcher{
		Name:    "player_join",
		Pattern: regexp.MustCompile(`LogNet: Join succeeded: (.+)$`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogPlayerJoin
			event.Player = strings.TrimSpace(m[1])
		},
	})
	r.Register(Matcher{
		Name:    "player_leave",
		Pattern: regexp.MustCompile(`LogNet: UChannel::Close:.*PlayerName:\s*([^,\]]+)`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogPlayerLeave
			event.Player = strings.TrimSpace(m[1])
		},
	})
	r.Register(Matcher{
		Name:    "queue_size",
		Pattern: regexp.MustCompile(`LogOnline:.*(?:queue size|players in queue):\s*(\d+)`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogQueueSize
			event.QueueSize, _ = strconv.Atoi(m[1])
		},
	})
	r.Register(Matcher{
		Name:    "airdrop",
		Pattern: regexp.MustCompile(`LogSFPS: AirDrop switched to (\w+)(?:\s+at\s+(.+))?$`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogAirdrop
			event.Detail = m[1]
			event.Location = strings.TrimSpace(m[2])
		},
	})
	r.Register(Matcher{
		Name:    "mission",
		Pattern: regexp.MustCompile(`LogSFPS: Mission (\S+) switched to (\w+)(?:\s+at\s+(.+))?$`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogMission
			event.MissionName = m[1]
			event.MissionState = m[2]
			event.Location = strings.TrimSpace(m[3])
		},
	})
	r.Register(Matcher{
		Name:    "trader",
		Pattern: regexp.MustCompile(`LogSFPS: Trader (?:zone )?restock(?:ed)?(?:\s+(.+))?$`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogTrader
			event.Detail = strings.TrimSpace(m[1])
		},
	})
	r.Register(Matcher{
		Name:    "crash",
		Pattern: regexp.MustCompile(`(Game crash!|LogCore: === Critical error: ===)`),
		Build: func(m []string, event *events.LogEvent) {
			event.Kind = events.LogCrash
			event.Detail = m[1]
		},
	})
}
