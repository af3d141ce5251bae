// Package config holds the conversion parameters.
//
// Default returns the built-in parameters. Load overlays a YAML file on top
// of them. A Config is a plain value, pass it by value to keep it immutable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported save format")
	ErrUnsupportedProgram = errors.New("unsupported gif program")
)

// Format is the output container
type Format int

const (
	FormatGIF Format = iota
	FormatWebP
)

// ParseFormat accepts "gif" or "webp", case insensitive
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gif":
		return FormatGIF, nil
	case "webp":
		return FormatWebP, nil
	default:
		return 0, fmt.Errorf("%w: %q (expected gif or webp)", ErrUnsupportedFormat, s)
	}
}

func (f Format) String() string {
	switch f {
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Ext file extension including dot
func (f Format) Ext() string {
	return "." + f.String()
}

func (f Format) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

func (f *Format) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseFormat(value.Value)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Program is the engine used to write GIFs
type Program int

const (
	// ProgramFFmpeg lets ffmpeg generate a palette and encode
	ProgramFFmpeg Program = iota
	// ProgramNative quantizes and encodes frames in process
	ProgramNative
)

func ParseProgram(s string) (Program, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ffmpeg":
		return ProgramFFmpeg, nil
	case "native":
		return ProgramNative, nil
	default:
		return 0, fmt.Errorf("%w: %q (expected ffmpeg or native)", ErrUnsupportedProgram, s)
	}
}

func (p Program) String() string {
	switch p {
	case ProgramFFmpeg:
		return "ffmpeg"
	case ProgramNative:
		return "native"
	}
	return fmt.Sprintf("Program(%d)", int(p))
}

func (p Program) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

func (p *Program) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseProgram(value.Value)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// GIF options. Empty optional entries are not passed on to the encoder.
type GIF struct {
	FPS     int     `yaml:"fps"`
	Program Program `yaml:"program"`
	// Dither is the paletteuse dither mode (bayer, sierra2_4a, none, ...)
	Dither string `yaml:"dither"`
	// StatsMode is the palettegen stats_mode (full, diff, single)
	StatsMode string `yaml:"stats_mode"`
	Verbose   bool   `yaml:"verbose"`
}

type WebP struct {
	Lossless bool    `yaml:"lossless"`
	Quality  float32 `yaml:"quality"`
}

type Config struct {
	Input       string  `yaml:"input"`
	SaveDir     string  `yaml:"save_dir"`
	OutputName  string  `yaml:"output_name"`
	Format      Format  `yaml:"format"`
	SpeedFactor float64 `yaml:"speed_factor"`
	ResizeRatio float64 `yaml:"resize_ratio"`
	GIF         GIF     `yaml:"gif"`
	WebP        WebP    `yaml:"webp"`
}

// Default returns the built-in parameters. Relative paths are resolved
// against the executable directory by Resolve.
func Default() Config {
	return Config{
		Input:       "c202_0519.mp4",
		SaveDir:     "fastvideo",
		OutputName:  "c202-2",
		Format:      FormatGIF,
		SpeedFactor: 2.0,
		ResizeRatio: 0.5,
		GIF: GIF{
			FPS:     10,
			Program: ProgramFFmpeg,
		},
		WebP: WebP{
			Quality: 80,
		},
	}
}

// Parse overlays YAML data on the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML file, see Parse. Empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and closed variants
func (c Config) Validate() error {
	switch c.Format {
	case FormatGIF, FormatWebP:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, c.Format)
	}
	switch c.GIF.Program {
	case ProgramFFmpeg, ProgramNative:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProgram, c.GIF.Program)
	}
	if c.Input == "" {
		return errors.New("input must be set")
	}
	if c.OutputName == "" || strings.ContainsAny(c.OutputName, `/\`) {
		return fmt.Errorf("output name %q must be a plain file name", c.OutputName)
	}
	if !(c.SpeedFactor > 0) {
		return fmt.Errorf("speed factor must be > 0, got %v", c.SpeedFactor)
	}
	if !(c.ResizeRatio > 0) {
		return fmt.Errorf("resize ratio must be > 0, got %v", c.ResizeRatio)
	}
	if c.GIF.FPS <= 0 {
		return fmt.Errorf("gif fps must be > 0, got %d", c.GIF.FPS)
	}
	if c.WebP.Quality < 0 || c.WebP.Quality > 100 {
		return fmt.Errorf("webp quality must be 0-100, got %v", c.WebP.Quality)
	}
	return nil
}

// Resolve returns a copy with relative Input and SaveDir joined to baseDir
func (c Config) Resolve(baseDir string) Config {
	if !filepath.IsAbs(c.Input) {
		c.Input = filepath.Join(baseDir, c.Input)
	}
	if !filepath.IsAbs(c.SaveDir) {
		c.SaveDir = filepath.Join(baseDir, c.SaveDir)
	}
	return c
}

// OutputPath is SaveDir/OutputName plus format extension
func (c Config) OutputPath() string {
	return filepath.Join(c.SaveDir, c.OutputName+c.Format.Ext())
}
