// Package config loads the scheduler's configuration from JSON: a named
// built-in config selects a baseline, an optional file overrides
// individual sections, and any section left at its zero value falls
// back to the default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/common/log/helpers"
	"github.com/taegeonum/onyx/internal/policy"
	"github.com/taegeonum/onyx/internal/scheduler"
)

// builtinConfigs holds named JSON blobs selectable from the command
// line without a file on disk.
var builtinConfigs = map[string]string{
	"default": `{
		"Dispatch": {"NoExecutorRetryIntervalMs": 50, "LaunchRPCRetryTimeoutMs": 10000},
		"LateMessageLogCacheSize": 256,
		"DefaultExecutorLabel": "transient"
	}`,
	"local": `{
		"Dispatch": {"NoExecutorRetryIntervalMs": 10, "LaunchRPCRetryTimeoutMs": 2000},
		"LateMessageLogCacheSize": 64,
		"DefaultExecutorLabel": "transient"
	}`,
}

// DispatchJSONConfig is the wire representation of dispatch.Config:
// durations are expressed in milliseconds since encoding/json has no
// native time.Duration support.
type DispatchJSONConfig struct {
	NoExecutorRetryIntervalMs int `json:"NoExecutorRetryIntervalMs"`
	LaunchRPCRetryTimeoutMs   int `json:"LaunchRPCRetryTimeoutMs"`
}

// SchedulerJSONConfig is the top-level JSON document: the scheduler's
// scheduler.Config plus whatever placement defaults the operator wants
// to pin rather than leave to the policy's own defaults.
type SchedulerJSONConfig struct {
	Dispatch                DispatchJSONConfig `json:"Dispatch"`
	LateMessageLogCacheSize int                `json:"LateMessageLogCacheSize"`
	// DefaultExecutorCapacity is a pointer so an absent field is
	// distinguishable from an explicit 0.
	DefaultExecutorCapacity *int32 `json:"DefaultExecutorCapacity,omitempty"`
	// DefaultExecutorLabel is likewise optional; an absent field stays
	// nil, which CopyPointerToString reads as "" ("not set").
	DefaultExecutorLabel *string `json:"DefaultExecutorLabel,omitempty"`
}

func (c SchedulerJSONConfig) String() string {
	return fmt.Sprintf(
		"SchedulerJSONConfig: LateMessageLogCacheSize: %d, DefaultExecutorCapacity: %d, DefaultExecutorLabel: %s",
		c.LateMessageLogCacheSize,
		helpers.CopyPointerToInt32(c.DefaultExecutorCapacity),
		helpers.CopyPointerToString(c.DefaultExecutorLabel),
	)
}

// GetConfigText returns the named built-in config's raw JSON, or an
// error naming the available selectors.
func GetConfigText(name string) ([]byte, error) {
	text, ok := builtinConfigs[name]
	if !ok {
		names := make([]string, 0, len(builtinConfigs))
		for k := range builtinConfigs {
			names = append(names, k)
		}
		return nil, fmt.Errorf("config: unknown built-in config %q, available: %v", name, names)
	}
	return []byte(text), nil
}

// Load resolves a SchedulerJSONConfig: start from the named built-in
// baseline, then overlay cfgFile's contents if non-empty. Any field
// left zero-valued by the overlay keeps the baseline's value.
func Load(selector, cfgFile string) (*SchedulerJSONConfig, error) {
	baseText, err := GetConfigText(selector)
	if err != nil {
		return nil, err
	}
	cfg := &SchedulerJSONConfig{}
	if err := json.Unmarshal(baseText, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing built-in config %q: %w", selector, err)
	}

	if cfgFile == "" {
		return cfg, nil
	}
	overlayText, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
	}
	overlay := &SchedulerJSONConfig{}
	if err := json.Unmarshal(overlayText, overlay); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", cfgFile, err)
	}
	if overlay.Dispatch.NoExecutorRetryIntervalMs != 0 {
		cfg.Dispatch.NoExecutorRetryIntervalMs = overlay.Dispatch.NoExecutorRetryIntervalMs
	}
	if overlay.Dispatch.LaunchRPCRetryTimeoutMs != 0 {
		cfg.Dispatch.LaunchRPCRetryTimeoutMs = overlay.Dispatch.LaunchRPCRetryTimeoutMs
	}
	if overlay.LateMessageLogCacheSize != 0 {
		cfg.LateMessageLogCacheSize = overlay.LateMessageLogCacheSize
	}
	if overlay.DefaultExecutorCapacity != nil {
		cfg.DefaultExecutorCapacity = overlay.DefaultExecutorCapacity
	}
	if overlay.DefaultExecutorLabel != nil {
		cfg.DefaultExecutorLabel = overlay.DefaultExecutorLabel
	}
	log.WithFields(log.Fields{"selector": selector, "overlay": cfgFile}).Info(cfg.String())
	return cfg, nil
}

// ToSchedulerConfig converts the JSON document into the scheduler
// package's runtime Config, translating millisecond fields into
// durations.
func (c SchedulerJSONConfig) ToSchedulerConfig() scheduler.Config {
	sc := scheduler.DefaultConfig()
	if c.Dispatch.NoExecutorRetryIntervalMs > 0 {
		sc.Dispatch.NoExecutorRetryInterval = time.Duration(c.Dispatch.NoExecutorRetryIntervalMs) * time.Millisecond
	}
	if c.Dispatch.LaunchRPCRetryTimeoutMs > 0 {
		sc.Dispatch.LaunchRPCRetryTimeout = time.Duration(c.Dispatch.LaunchRPCRetryTimeoutMs) * time.Millisecond
	}
	if c.LateMessageLogCacheSize > 0 {
		sc.LateMessageLogCacheSize = c.LateMessageLogCacheSize
	}
	return sc
}

// DefaultExecutorLabelValue resolves the configured default label
// against the policy package's enum, falling back to LabelTransient
// when unset, matching builtinConfigs["default"].
func (c SchedulerJSONConfig) DefaultExecutorLabelValue() policy.Label {
	switch helpers.CopyPointerToString(c.DefaultExecutorLabel) {
	case "reserved":
		return policy.LabelReserved
	default:
		return policy.LabelTransient
	}
}
