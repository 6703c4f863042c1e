package events

import "time"

// MenuSuicideLabel is the normalized label for deaths caused by the
// in-game relocation menu, regardless of what name the server wrote
// into the raw line.
const MenuSuicideLabel = "Menu Suicide"

// KillEvent is a single parsed kill-log record. It is constructed,
// emitted to a sink and discarded; the core never stores it.
type KillEvent struct {
	ServerKey      string
	Timestamp      time.Time
	Killer         string
	Victim         string
	Weapon         string
	DistanceMeters float64
	IsSuicide      bool
	SuicideLabel   string
}

// Identity returns the fields downstream consumers are expected to
// deduplicate on. Re-delivery of a committed batch after a crash is
// acceptable because two events with the same identity are the same
// kill.
func (e KillEvent) Identity() [5]string {
	return [5]string{e.ServerKey, e.Timestamp.UTC().Format(time.RFC3339), e.Killer, e.Victim, e.Weapon}
}

// LogEventKind tags the recognized server-log line shapes.
type LogEventKind string

const (
	LogPlayerJoin  LogEventKind = "player_join"
	LogPlayerLeave LogEventKind = "player_leave"
	LogQueueSize   LogEventKind = "queue_size"
	LogAirdrop     LogEventKind = "airdrop"
	LogMission     LogEventKind = "mission"
	LogTrader      LogEventKind = "trader"
	LogCrash       LogEventKind = "crash"
)

// LogEvent is a tagged variant over the recognized Deadside.log line
// shapes. Only the fields relevant to Kind are populated.
type LogEvent struct {
	Kind      LogEventKind
	ServerKey string
	Timestamp time.Time

	Player       string // join/leave
	QueueSize    int    // queue_size
	Location     string // airdrop, mission
	MissionName  string // mission
	MissionState string // mission: READY, ACTIVE, WAITING, ENDED
	Detail       string // trader/crash free text
}

// BackfillProgress is a snapshot of an in-flight historical reparse.
// Each snapshot supersedes the previous one; the caller owns a single
// progress display and edits it in place.
type BackfillProgress struct {
	ServerKey      string
	FilesTotal     int
	FilesDone      int
	LinesTotal     int64
	LinesDone      int64
	EventsEmitted  int64
	LinesMalformed int64
	StartedAt      time.Time
	Finished       bool
}

// Percent returns completion in [0,100] based on line counts.
func (p BackfillProgress) Percent() float64 {
	if p.Finished {
		return 100
	}
	if p.LinesTotal <= 0 {
		return 0
	}
	return float64(p.LinesDone) / float64(p.LinesTotal) * 100
}
