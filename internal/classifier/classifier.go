// Package classifier implements the Agent Classifier: a pluggable
// consumer of a pane's PTY output stream that derives an Activity state
// (Idle, Working, AwaitingConfirmation, Error) and extracts agent
// metadata (kind, model, session handle) when present in the stream.
//
// Selection is by agent-kind preset at pane creation time.
package classifier

import (
	"regexp"
	"sync"
	"time"
)

// Activity is the derived state of a pane's hosted agent.
type Activity int

const (
	Unknown Activity = iota
	Idle
	Working
	AwaitingConfirmation
	Error
)

func (a Activity) String() string {
	switch a {
	case Idle:
		return "idle"
	case Working:
		return "working"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Metadata holds agent identity extracted from output, when recognized.
type Metadata struct {
	AgentKind     string
	Model         string
	SessionHandle string
}

// ActivityChange describes a transition reported by Observe.
type ActivityChange struct {
	From Activity
	To   Activity
}

// Classifier is the pluggable interface every agent-kind preset
// implements. Classifier failures never propagate - activity falls
// back to Unknown - so the interface has no error return, keeping that
// policy structural.
type Classifier interface {
	// Observe feeds newly-read PTY bytes to the classifier. It returns
	// the resulting change if the debounced activity state transitioned,
	// or (change, false) if it did not.
	Observe(b []byte) (ActivityChange, bool)
	// Tick re-evaluates idle decay without new output (called
	// periodically by the output pump so a pane that simply stops
	// producing output still degrades from Working to Idle).
	Tick() (ActivityChange, bool)
	State() Activity
	Metadata() Metadata
}

// escapeRE strips ANSI/VT escape sequences (CSI, OSC, simple ESC
// sequences) so pattern matchers see plain text. Stripping is all the
// classifier needs; directive extraction from OSC traffic belongs to
// the sideband scanner.
var escapeRE = regexp.MustCompile(`\x1b(\][^\x07\x1b]*(\x07|\x1b\\)|\[[0-9;?]*[a-zA-Z]|[()][AB012]|[=>])`)

// Strip removes escape sequences from b, returning plain text.
func Strip(b []byte) []byte {
	return escapeRE.ReplaceAll(b, nil)
}

// Preset names, selectable at pane-creation time by command/preset.
const (
	PresetGeneric = "generic"
	PresetClaude  = "claude"
	PresetGemini  = "gemini"
)

// New constructs a Classifier for the named preset, falling back to
// the generic pattern set for unrecognized presets: an unrecognized
// preset still classifies idle/working from pure output cadence.
func New(preset string) Classifier {
	switch preset {
	case PresetClaude:
		return newPatternClassifier(claudeMatchers)
	case PresetGemini:
		return newPatternClassifier(geminiMatchers)
	default:
		return newPatternClassifier(genericMatchers)
	}
}

// matcher maps a stripped text window to an Activity, or reports no
// match so the cadence-based fallback (dwell timer) decides.
type matcher struct {
	pattern  *regexp.Regexp
	activity Activity
}

// minDwell is the minimum time a new activity must persist before it
// is reported as a transition, avoiding flapping on noisy output
// bursts.
const minDwell = 300 * time.Millisecond

// idleThreshold is how long without output before Working degrades to
// Idle.
const idleThreshold = 2 * time.Second

type patternClassifier struct {
	mu         sync.Mutex
	matchers   []matcher
	window     []byte
	current    Activity
	pending    Activity
	pendingAt  time.Time
	lastOutput time.Time
	meta       Metadata
}

func newPatternClassifier(matchers []matcher) *patternClassifier {
	return &patternClassifier{matchers: matchers, current: Unknown}
}

const maxWindow = 4096

func (c *patternClassifier) Observe(b []byte) (ActivityChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.lastOutput = now

	plain := Strip(b)
	c.window = append(c.window, plain...)
	if len(c.window) > maxWindow {
		c.window = c.window[len(c.window)-maxWindow:]
	}

	c.extractMetadata()

	detected := Working
	for _, m := range c.matchers {
		if m.pattern.Match(c.window) {
			detected = m.activity
			break
		}
	}

	return c.transitionTo(detected, now)
}

// Tick allows a caller (the output pump) to periodically re-evaluate
// idle decay even without new output, since Observe is only called on
// reads. Returns the same shape as Observe.
func (c *patternClassifier) Tick() (ActivityChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.current != Working && c.pending != Working {
		return ActivityChange{}, false
	}
	if now.Sub(c.lastOutput) < idleThreshold {
		return ActivityChange{}, false
	}
	// The silence itself is the dwell: Idle has held since the last
	// output, which is already longer than minDwell.
	if c.pending != Idle {
		c.pending = Idle
		c.pendingAt = c.lastOutput
	}
	return c.transitionTo(Idle, now)
}

// transitionTo applies the debounce policy: a candidate activity must
// persist for minDwell before becoming current. Caller holds c.mu.
func (c *patternClassifier) transitionTo(candidate Activity, now time.Time) (ActivityChange, bool) {
	if candidate == c.current {
		c.pending = Unknown
		return ActivityChange{}, false
	}
	if candidate != c.pending {
		c.pending = candidate
		c.pendingAt = now
		return ActivityChange{}, false
	}
	if now.Sub(c.pendingAt) < minDwell {
		return ActivityChange{}, false
	}
	from := c.current
	c.current = candidate
	c.pending = Unknown
	return ActivityChange{From: from, To: candidate}, true
}

func (c *patternClassifier) State() Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *patternClassifier) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// sessionIDRE and modelRE extract session/model hints some agent CLIs
// print on startup banners; this is intentionally loose since the
// classifier must swallow non-matches rather than error.
var (
	sessionIDRE = regexp.MustCompile(`(?i)session[_ -]?id[:=]\s*([0-9a-fA-F-]{8,})`)
	modelRE     = regexp.MustCompile(`(?i)model[:=]\s*([\w.\-/]+)`)
)

func (c *patternClassifier) extractMetadata() {
	if m := sessionIDRE.FindSubmatch(c.window); m != nil {
		c.meta.SessionHandle = string(m[1])
	}
	if m := modelRE.FindSubmatch(c.window); m != nil {
		c.meta.Model = string(m[1])
	}
}

// Matcher sets per preset. Order matters: first match wins, so more
// specific states (error, awaiting-confirmation) are listed before the
// generic "still producing output" working match.
var genericMatchers = []matcher{
	{pattern: regexp.MustCompile(`(?i)(error|exception|traceback|panic:)`), activity: Error},
	{pattern: regexp.MustCompile(`(?i)(y/n|yes/no|\(y\)es.*\(n\)o|continue\?|proceed\?)`), activity: AwaitingConfirmation},
}

var claudeMatchers = []matcher{
	{pattern: regexp.MustCompile(`(?i)(error:|exception|traceback)`), activity: Error},
	{pattern: regexp.MustCompile(`(?i)(do you want to proceed|allow this|1\. yes|2\. no)`), activity: AwaitingConfirmation},
}

var geminiMatchers = []matcher{
	{pattern: regexp.MustCompile(`(?i)(error:|exception)`), activity: Error},
	{pattern: regexp.MustCompile(`(?i)(apply this change\?|y/n)`), activity: AwaitingConfirmation},
}
