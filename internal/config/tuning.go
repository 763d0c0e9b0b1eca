package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrInvalidConfiguration is returned when detector settings cannot be
// used: a non-positive threshold, a history capacity below 2 or a
// non-positive cadence.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Built-in defaults, used when a field is omitted from the JSON file.
const (
	DefaultHistoryCapacity    = 64
	DefaultLoiterThresholdPx  = 5.0
	DefaultAnnotationXOffset  = 10
	DefaultAnnotationYOffset  = 12
	DefaultAnnotationFont     = "Serif"
	DefaultAnnotationFontSize = 10.0
	DefaultPersistQueueSize   = 256
)

// TuningConfig represents the detector configuration. The schema matches
// the /api/config endpoint so the same JSON can be used for both startup
// configuration and inspection.
type TuningConfig struct {
	// Movement history and classifier
	HistoryCapacity   *int     `json:"history_capacity,omitempty"`
	LoiterThresholdPx *float64 `json:"loiter_threshold_px,omitempty"`
	// EvaluationCadence defaults to HistoryCapacity when omitted.
	EvaluationCadence *int `json:"evaluation_cadence,omitempty"`

	// Overlay
	AnnotationXOffset  *int     `json:"annotation_x_offset,omitempty"`
	AnnotationYOffset  *int     `json:"annotation_y_offset,omitempty"`
	AnnotationFont     *string  `json:"annotation_font,omitempty"`
	AnnotationFontSize *float64 `json:"annotation_font_size,omitempty"`
	// DisplayPoolSize bounds the annotations available per batch.
	// Zero means unbounded.
	DisplayPoolSize *int `json:"display_pool_size,omitempty"`

	// Persistence
	PersistQueueSize *int `json:"persist_queue_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		HistoryCapacity:    ptrInt(DefaultHistoryCapacity),
		LoiterThresholdPx:  ptrFloat64(DefaultLoiterThresholdPx),
		EvaluationCadence:  ptrInt(DefaultHistoryCapacity),
		AnnotationXOffset:  ptrInt(DefaultAnnotationXOffset),
		AnnotationYOffset:  ptrInt(DefaultAnnotationYOffset),
		AnnotationFont:     ptrString(DefaultAnnotationFont),
		AnnotationFontSize: ptrFloat64(DefaultAnnotationFontSize),
		DisplayPoolSize:    ptrInt(0),
		PersistQueueSize:   ptrInt(DefaultPersistQueueSize),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/vision/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Every failure
// wraps ErrInvalidConfiguration.
func (c *TuningConfig) Validate() error {
	if c.HistoryCapacity != nil && *c.HistoryCapacity <= 1 {
		return fmt.Errorf("%w: history_capacity must be > 1, got %d", ErrInvalidConfiguration, *c.HistoryCapacity)
	}
	if c.LoiterThresholdPx != nil && !(*c.LoiterThresholdPx > 0) {
		return fmt.Errorf("%w: loiter_threshold_px must be > 0, got %f", ErrInvalidConfiguration, *c.LoiterThresholdPx)
	}
	if c.EvaluationCadence != nil && *c.EvaluationCadence < 1 {
		return fmt.Errorf("%w: evaluation_cadence must be >= 1, got %d", ErrInvalidConfiguration, *c.EvaluationCadence)
	}
	if c.AnnotationFontSize != nil && !(*c.AnnotationFontSize > 0) {
		return fmt.Errorf("%w: annotation_font_size must be > 0, got %f", ErrInvalidConfiguration, *c.AnnotationFontSize)
	}
	if c.DisplayPoolSize != nil && *c.DisplayPoolSize < 0 {
		return fmt.Errorf("%w: display_pool_size must be non-negative, got %d", ErrInvalidConfiguration, *c.DisplayPoolSize)
	}
	if c.PersistQueueSize != nil && *c.PersistQueueSize < 1 {
		return fmt.Errorf("%w: persist_queue_size must be >= 1, got %d", ErrInvalidConfiguration, *c.PersistQueueSize)
	}
	return nil
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *TuningConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return DefaultHistoryCapacity
	}
	return *c.HistoryCapacity
}

// GetLoiterThresholdPx returns the loiter_threshold_px value or the default.
func (c *TuningConfig) GetLoiterThresholdPx() float64 {
	if c.LoiterThresholdPx == nil {
		return DefaultLoiterThresholdPx
	}
	return *c.LoiterThresholdPx
}

// GetEvaluationCadence returns the evaluation_cadence value, falling back
// to the history capacity.
func (c *TuningConfig) GetEvaluationCadence() int {
	if c.EvaluationCadence == nil {
		return c.GetHistoryCapacity()
	}
	return *c.EvaluationCadence
}

// GetAnnotationXOffset returns the annotation_x_offset value or the default.
func (c *TuningConfig) GetAnnotationXOffset() int {
	if c.AnnotationXOffset == nil {
		return DefaultAnnotationXOffset
	}
	return *c.AnnotationXOffset
}

// GetAnnotationYOffset returns the annotation_y_offset value or the default.
func (c *TuningConfig) GetAnnotationYOffset() int {
	if c.AnnotationYOffset == nil {
		return DefaultAnnotationYOffset
	}
	return *c.AnnotationYOffset
}

// GetAnnotationFont returns the annotation_font value or the default.
func (c *TuningConfig) GetAnnotationFont() string {
	if c.AnnotationFont == nil || *c.AnnotationFont == "" {
		return DefaultAnnotationFont
	}
	return *c.AnnotationFont
}

// GetAnnotationFontSize returns the annotation_font_size value or the default.
func (c *TuningConfig) GetAnnotationFontSize() float64 {
	if c.AnnotationFontSize == nil {
		return DefaultAnnotationFontSize
	}
	return *c.AnnotationFontSize
}

// GetDisplayPoolSize returns the display_pool_size value or the default.
func (c *TuningConfig) GetDisplayPoolSize() int {
	if c.DisplayPoolSize == nil {
		return 0
	}
	return *c.DisplayPoolSize
}

// GetPersistQueueSize returns the persist_queue_size value or the default.
func (c *TuningConfig) GetPersistQueueSize() int {
	if c.PersistQueueSize == nil {
		return DefaultPersistQueueSize
	}
	return *c.PersistQueueSize
}
