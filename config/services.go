package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ServiceMode names one background service the worker binary can run.
type ServiceMode string

const (
	// ServiceModeConsumer polls the input queue and processes jobs.
	ServiceModeConsumer ServiceMode = "consumer"
	// ServiceModeReplayer replays the recovery store on RECOVERY_REPLAY_INTERVAL.
	ServiceModeReplayer ServiceMode = "replayer"
)

// ValidServiceModes returns every mode SERVICES accepts.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeConsumer, ServiceModeReplayer}
}

// ParseServices reads a comma-separated SERVICES value. Names are case-insensitive, blanks and
// duplicates are ignored, and any unknown name fails the whole value.
func ParseServices(value string) (map[ServiceMode]bool, error) {
	valid := ValidServiceModes()
	enabled := make(map[ServiceMode]bool, len(valid))
	for name := range strings.SplitSeq(value, ",") {
		mode := ServiceMode(strings.ToLower(strings.TrimSpace(name)))
		if mode == "" {
			continue
		}
		if !slices.Contains(valid, mode) {
			return nil, fmt.Errorf("invalid service name %q (valid options: %s)", mode, joinModes(valid))
		}
		enabled[mode] = true
	}
	if len(enabled) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return enabled, nil
}

func joinModes(modes []ServiceMode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
