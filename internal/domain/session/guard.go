package session

import "time"

// Default guard parameters. The idle window matches the session auto-close
// timeout; the cadence parameters bound what counts as a plausible human
// interaction rhythm.
const (
	DefaultIdleThreshold    = 2 * time.Minute
	DefaultMaxGapCredit     = 30 * time.Minute
	DefaultMinHumanInterval = 2 * time.Second
	DefaultCadenceWindow    = 10
	DefaultCadenceTrigger   = 3
)

// GuardConfig parameterizes the anti-idle / pattern guard.
type GuardConfig struct {
	// IdleThreshold is the maximum inter-event gap that still earns
	// active-minute credit. Gaps beyond it contribute zero active minutes.
	IdleThreshold time.Duration

	// MaxGapCredit caps the per-gap contribution to total minutes, bounding
	// idle exploitation of a forgotten open session.
	MaxGapCredit time.Duration

	// MinHumanInterval is the shortest inter-event gap considered plausible
	// for a human interaction.
	MinHumanInterval time.Duration

	// CadenceWindow is the number of trailing inter-event gaps inspected.
	CadenceWindow int

	// CadenceTrigger is the number of sub-human gaps within the window that
	// flags the session as suspicious.
	CadenceTrigger int
}

// DefaultGuardConfig returns the default guard parameters.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		IdleThreshold:    DefaultIdleThreshold,
		MaxGapCredit:     DefaultMaxGapCredit,
		MinHumanInterval: DefaultMinHumanInterval,
		CadenceWindow:    DefaultCadenceWindow,
		CadenceTrigger:   DefaultCadenceTrigger,
	}
}

// normalized fills zero fields with defaults so a partially configured guard
// never divides credit by accident.
func (c GuardConfig) normalized() GuardConfig {
	d := DefaultGuardConfig()
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.MaxGapCredit <= 0 {
		c.MaxGapCredit = d.MaxGapCredit
	}
	if c.MinHumanInterval <= 0 {
		c.MinHumanInterval = d.MinHumanInterval
	}
	if c.CadenceWindow <= 0 {
		c.CadenceWindow = d.CadenceWindow
	}
	if c.CadenceTrigger <= 0 {
		c.CadenceTrigger = d.CadenceTrigger
	}
	return c
}

// GuardVerdict is the per-event decision of the pattern guard.
type GuardVerdict struct {
	// Idle means the gap preceding the event exceeded the idle threshold;
	// the gap earns no active-minute credit.
	Idle bool

	// CreditedTotal is the gap credited to total minutes (capped).
	CreditedTotal time.Duration

	// Suspicious means the trailing cadence window tripped the guard.
	Suspicious bool
}

// Guard recomputes idle and cadence decisions per event from a session's
// trailing gap window. No global learned model; decisions are a pure function
// of the trailing gaps and the config.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a pattern guard with the given configuration.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg.normalized()}
}

// Config returns the effective guard configuration.
func (g *Guard) Config() GuardConfig {
	return g.cfg
}

// Inspect evaluates the gap preceding an event together with the session's
// trailing gaps (most recent last, already including the current gap is the
// caller's choice - Inspect appends it itself to the copy it reasons over).
func (g *Guard) Inspect(gap time.Duration, trailing []time.Duration) GuardVerdict {
	v := GuardVerdict{
		Idle:          gap > g.cfg.IdleThreshold,
		CreditedTotal: gap,
	}
	if v.CreditedTotal > g.cfg.MaxGapCredit {
		v.CreditedTotal = g.cfg.MaxGapCredit
	}

	rapid := 0
	if gap < g.cfg.MinHumanInterval {
		rapid++
	}
	start := 0
	if n := len(trailing); n > g.cfg.CadenceWindow-1 {
		start = n - (g.cfg.CadenceWindow - 1)
	}
	for _, prev := range trailing[start:] {
		if prev < g.cfg.MinHumanInterval {
			rapid++
		}
	}
	v.Suspicious = rapid >= g.cfg.CadenceTrigger
	return v
}
