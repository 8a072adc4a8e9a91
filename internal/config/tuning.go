package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for pipeline tuning
// parameters. All fields are pointers so a partial JSON file only
// overrides what it names; the Get* methods supply defaults for the
// rest.
type TuningConfig struct {
	// Fragment validation params
	MinVertices   *int     `json:"min_vertices,omitempty"`
	MaxVertices   *int     `json:"max_vertices,omitempty"`
	MinFaces      *int     `json:"min_faces,omitempty"`
	MaxFaces      *int     `json:"max_faces,omitempty"`
	MaxCoordinate *float64 `json:"max_coordinate,omitempty"`

	// Store params
	StoreCapacity *int `json:"store_capacity,omitempty"`

	// Scheduler params
	UpdateInterval  *string `json:"update_interval,omitempty"` // duration string like "250ms"
	BatchSize       *int    `json:"batch_size,omitempty"`
	InterBatchDelay *string `json:"inter_batch_delay,omitempty"` // duration string like "50ms"

	// Sampler params
	CellSize      *float64 `json:"cell_size,omitempty"`
	FloorFraction *float64 `json:"floor_fraction,omitempty"`

	// Archive params
	ArchiveCapacity *int    `json:"archive_capacity,omitempty"`
	FlushInterval   *string `json:"flush_interval,omitempty"` // duration string like "2s"

	// Session params
	TargetDuration *string `json:"target_duration,omitempty"` // duration string like "60s", empty disables
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
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
	const maxFileSize = 1 * 1024 * 1024
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
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinVertices != nil && *c.MinVertices < 1 {
		return fmt.Errorf("min_vertices must be positive, got %d", *c.MinVertices)
	}
	if c.MaxVertices != nil && c.MinVertices != nil && *c.MaxVertices < *c.MinVertices {
		return fmt.Errorf("max_vertices %d is below min_vertices %d", *c.MaxVertices, *c.MinVertices)
	}
	if c.MaxCoordinate != nil && *c.MaxCoordinate <= 0 {
		return fmt.Errorf("max_coordinate must be positive, got %f", *c.MaxCoordinate)
	}
	if c.StoreCapacity != nil && *c.StoreCapacity < 1 {
		return fmt.Errorf("store_capacity must be positive, got %d", *c.StoreCapacity)
	}
	if c.BatchSize != nil && *c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.CellSize != nil && *c.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive, got %f", *c.CellSize)
	}
	if c.FloorFraction != nil {
		if *c.FloorFraction < 0 || *c.FloorFraction > 1 {
			return fmt.Errorf("floor_fraction must be between 0 and 1, got %f", *c.FloorFraction)
		}
	}
	if c.ArchiveCapacity != nil && *c.ArchiveCapacity < 1 {
		return fmt.Errorf("archive_capacity must be positive, got %d", *c.ArchiveCapacity)
	}

	for name, v := range map[string]*string{
		"update_interval":   c.UpdateInterval,
		"inter_batch_delay": c.InterBatchDelay,
		"flush_interval":    c.FlushInterval,
		"target_duration":   c.TargetDuration,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetMinVertices returns the min_vertices value or the default.
func (c *TuningConfig) GetMinVertices() int {
	if c.MinVertices == nil {
		return 3
	}
	return *c.MinVertices
}

// GetMaxVertices returns the max_vertices value or the default.
func (c *TuningConfig) GetMaxVertices() int {
	if c.MaxVertices == nil {
		return 65536
	}
	return *c.MaxVertices
}

// GetMinFaces returns the min_faces value or the default.
func (c *TuningConfig) GetMinFaces() int {
	if c.MinFaces == nil {
		return 1
	}
	return *c.MinFaces
}

// GetMaxFaces returns the max_faces value or the default.
func (c *TuningConfig) GetMaxFaces() int {
	if c.MaxFaces == nil {
		return 131072
	}
	return *c.MaxFaces
}

// GetMaxCoordinate returns the max_coordinate value or the default.
func (c *TuningConfig) GetMaxCoordinate() float64 {
	if c.MaxCoordinate == nil {
		return 100.0
	}
	return *c.MaxCoordinate
}

// GetStoreCapacity returns the store_capacity value or the default.
func (c *TuningConfig) GetStoreCapacity() int {
	if c.StoreCapacity == nil {
		return 64
	}
	return *c.StoreCapacity
}

// GetUpdateInterval parses and returns the UpdateInterval as a time.Duration.
func (c *TuningConfig) GetUpdateInterval() time.Duration {
	return c.duration(c.UpdateInterval, 250*time.Millisecond)
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 4
	}
	return *c.BatchSize
}

// GetInterBatchDelay parses and returns the InterBatchDelay as a time.Duration.
func (c *TuningConfig) GetInterBatchDelay() time.Duration {
	return c.duration(c.InterBatchDelay, 50*time.Millisecond)
}

// GetCellSize returns the cell_size value or the default.
func (c *TuningConfig) GetCellSize() float64 {
	if c.CellSize == nil {
		return 0.05
	}
	return *c.CellSize
}

// GetFloorFraction returns the floor_fraction value or the default.
func (c *TuningConfig) GetFloorFraction() float64 {
	if c.FloorFraction == nil {
		return 0.2
	}
	return *c.FloorFraction
}

// GetArchiveCapacity returns the archive_capacity value or the default.
func (c *TuningConfig) GetArchiveCapacity() int {
	if c.ArchiveCapacity == nil {
		return 3
	}
	return *c.ArchiveCapacity
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	return c.duration(c.FlushInterval, 2*time.Second)
}

// GetTargetDuration parses and returns the TargetDuration as a
// time.Duration. Zero means the session never auto-completes.
func (c *TuningConfig) GetTargetDuration() time.Duration {
	return c.duration(c.TargetDuration, 0)
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
