// Copyright (C) 2024 The Patchlight Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads extraction settings from YAML files and provides
// default values for everything not given.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds all extraction settings loaded from YAML
type Config struct {
	// Pair discovery parameters
	Pairs struct {
		BaseDir    string   `yaml:"baseDir"`    // directory holding the source and target subdirectories
		SourceDirs []string `yaml:"sourceDirs"` // subdirectories with degraded input images
		TargetDir  string   `yaml:"targetDir"`  // subdirectory with clean counterparts, matched by file name
		Axes       string   `yaml:"axes"`       // semantic axis string of the images, e.g. YX
	} `yaml:"pairs"`

	// Patch sampling parameters
	Sampling struct {
		PatchSize           []int32 `yaml:"patchSize"`           // spatial patch dimensions, X first
		PatchesPerImage     int     `yaml:"patchesPerImage"`     // number of patches drawn from each pair
		ForegroundThreshold float32 `yaml:"foregroundThreshold"` // relative threshold in [0,1]; 0 accepts every window
		AutoSigmas          float32 `yaml:"autoSigmas"`          // >0 derives the threshold from a background fit instead
		MaxAttempts         int     `yaml:"maxAttempts"`         // draw budget per accepted patch
		Seed                uint32  `yaml:"seed"`                // base seed for reproducible sampling
	} `yaml:"sampling"`

	// Intensity normalization parameters
	Normalization struct {
		PercentileLow  float32 `yaml:"percentileLow"`
		PercentileHigh float32 `yaml:"percentileHigh"`
		Clip           bool    `yaml:"clip"`
	} `yaml:"normalization"`

	// Output parameters
	Output struct {
		FileName   string `yaml:"fileName"`   // NPZ archive to write; replaced if it exists
		PreviewDir string `yaml:"previewDir"` // optional directory for 16-bit TIFF previews of normalized pairs
	} `yaml:"output"`

	// MaxThreads limits concurrent pair processing; 0 uses all cores
	MaxThreads int `yaml:"maxThreads"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg:=&Config{}
	cfg.Pairs.SourceDirs=[]string{"low"}
	cfg.Pairs.TargetDir="GT"
	cfg.Pairs.Axes="YX"
	cfg.Sampling.PatchSize=[]int32{128, 128}
	cfg.Sampling.PatchesPerImage=2
	cfg.Sampling.ForegroundThreshold=0
	cfg.Sampling.AutoSigmas=0
	cfg.Sampling.MaxAttempts=100
	cfg.Sampling.Seed=0
	cfg.Normalization.PercentileLow=1.0
	cfg.Normalization.PercentileHigh=99.8
	cfg.Normalization.Clip=false
	cfg.Output.FileName="train.npz"
	cfg.Output.PreviewDir=""
	cfg.MaxThreads=runtime.NumCPU()
	return cfg
}

// LoadConfig loads configuration from a YAML file, with defaults for missing
// entries. A missing file returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg:=DefaultConfig()
	if _, err:=os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err:=os.ReadFile(configPath)
	if err!=nil { return nil, fmt.Errorf("error reading config file: %w", err) }
	if err:=yaml.Unmarshal(data, cfg); err!=nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	data, err:=yaml.Marshal(cfg)
	if err!=nil { return fmt.Errorf("error marshaling config: %w", err) }
	if err:=os.WriteFile(configPath, data, 0644); err!=nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate checks settings that would otherwise only fail deep inside a run
func (cfg *Config) Validate() error {
	if cfg.Pairs.BaseDir=="" { return fmt.Errorf("pairs.baseDir must be given") }
	if len(cfg.Pairs.SourceDirs)==0 { return fmt.Errorf("pairs.sourceDirs must name at least one directory") }
	if cfg.Pairs.TargetDir=="" { return fmt.Errorf("pairs.targetDir must be given") }
	if len(cfg.Sampling.PatchSize)==0 { return fmt.Errorf("sampling.patchSize must be given") }
	for _, d:=range cfg.Sampling.PatchSize {
		if d<=0 { return fmt.Errorf("sampling.patchSize %v must be positive", cfg.Sampling.PatchSize) }
	}
	if cfg.Sampling.PatchesPerImage<=0 { return fmt.Errorf("sampling.patchesPerImage must be positive") }
	if cfg.Sampling.ForegroundThreshold<0 || cfg.Sampling.ForegroundThreshold>1 {
		return fmt.Errorf("sampling.foregroundThreshold %g outside [0,1]", cfg.Sampling.ForegroundThreshold)
	}
	if cfg.Sampling.MaxAttempts<=0 { return fmt.Errorf("sampling.maxAttempts must be positive") }
	if cfg.Output.FileName=="" { return fmt.Errorf("output.fileName must be given") }
	if cfg.MaxThreads<0 { return fmt.Errorf("maxThreads must not be negative") }
	return nil
}
