package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature names. Flags gate operational behavior, never scoring rules: a
// leaderboard computed with flags off must rank the same as one with flags
// on, it just refreshes less eagerly.
const (
	// FeatureIdleSweep enables the background sweep that expires idle
	// open sessions.
	FeatureIdleSweep = "idle_sweep"

	// FeatureLeaderboardRebuild enables proactive background leaderboard
	// rebuilds. With it off, rows are still recomputed lazily on read.
	FeatureLeaderboardRebuild = "leaderboard_rebuild"

	// FeatureQuestArchival enables archival of completions for expired
	// quests.
	FeatureQuestArchival = "quest_archival"

	// FeatureAutoRewardTokens grants the reward grace tokens when a quest
	// completes. With it off, completions still record points and badges.
	FeatureAutoRewardTokens = "auto_reward_tokens"

	// FeatureSelfServeGrace exposes the token apply endpoint to users.
	FeatureSelfServeGrace = "self_serve_grace"
)

// Feature is one toggle with an optional percentage rollout.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent limits the feature to a stable slice of users,
	// 0-100. 100 means everyone.
	RolloutPercent int
}

// FeatureFlags is a concurrency-safe registry of features.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// LoadFeatureFlags builds the registry from defaults plus environment
// overrides (FEATURE_<NAME>=true|false, FEATURE_<NAME>_PERCENT=0-100).
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.register(&Feature{
		Name:           FeatureIdleSweep,
		Description:    "Expire idle open sessions in the background",
		Enabled:        true,
		RolloutPercent: 100,
	})
	ff.register(&Feature{
		Name:           FeatureLeaderboardRebuild,
		Description:    "Rebuild leaderboard rows proactively",
		Enabled:        true,
		RolloutPercent: 100,
	})
	ff.register(&Feature{
		Name:           FeatureQuestArchival,
		Description:    "Archive completions of expired quests",
		Enabled:        true,
		RolloutPercent: 100,
	})
	ff.register(&Feature{
		Name:           FeatureAutoRewardTokens,
		Description:    "Grant reward grace tokens on quest completion",
		Enabled:        true,
		RolloutPercent: 100,
	})
	ff.register(&Feature{
		Name:           FeatureSelfServeGrace,
		Description:    "User-facing grace token redemption endpoint",
		Enabled:        true,
		RolloutPercent: 100,
	})
}

func (ff *FeatureFlags) register(f *Feature) {
	ff.features[f.Name] = f
}

func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		key := featureNameToEnvKey(name)

		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				feature.Enabled = b
			}
		}
		if v := os.Getenv(key + "_PERCENT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil && p >= 0 && p <= 100 {
				feature.RolloutPercent = p
				feature.Enabled = p > 0
			}
		}
	}
}

func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(name)
}

// IsEnabled reports whether the feature is on for the given user. An empty
// userID checks only the global toggle.
func (ff *FeatureFlags) IsEnabled(featureName, userID string) bool {
	ff.mu.RLock()
	feature, ok := ff.features[featureName]
	ff.mu.RUnlock()

	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 || userID == "" {
		return feature.Enabled
	}
	return inRollout(userID, featureName, feature.RolloutPercent)
}

// inRollout buckets a user deterministically so the same user stays in or
// out of a rollout across restarts.
func inRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetRolloutPercent adjusts a rollout at runtime.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("rollout percent out of range: %d", percent)
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return fmt.Errorf("unknown feature: %s", featureName)
	}
	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature entirely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a snapshot of the registry.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.features))
	for name, f := range ff.features {
		out[name] = *f
	}
	return out
}
