package config

import (
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
)

// FileName is the config file looked up in the project root
const FileName = "bootstrap.toml"

// Sync modes
const (
	SyncScript = "script"
	SyncNative = "native"
	SyncNone   = "none"
)

// Config describes all configuration options
type Config struct {
	Root     string `toml:"root" usage:"Project root (defaults to the closest directory containing bootstrap.toml or .git)"`
	Platform string `toml:"platform" usage:"Override the detected platform name (i.e. Windows, Darwin, Linux)"`
	Strict   bool   `toml:"strict" default:"false" usage:"Fail if an external tool exits with a non-zero status"`
	DryRun   bool   `toml:"dry_run" default:"false" usage:"Only print the commands, don't execute anything"`

	Log struct {
		Level string `toml:"level" default:"info"`
		JSON  bool   `toml:"json" default:"false" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`

	Sync struct {
		Mode     string   `toml:"mode" default:"script" usage:"How to sync dependencies (script, native or none)"`
		Command  []string `toml:"command" default:"python,thirdparty/shaderc/utils/git-sync-deps" usage:"Sync tool invoked in script mode"`
		DepsFile string   `toml:"deps_file" default:"thirdparty/shaderc/DEPS" usage:"gclient-style DEPS file used in native mode"`
		Jobs     int      `toml:"jobs" default:"4" usage:"Number of repositories synced in parallel in native mode"`
		Archives string   `toml:"archives" default:"thirdparty/DEPS.yml" usage:"Manifest of prebuilt archives (skipped if missing)"`
	} `toml:"sync"`

	Generate struct {
		Cmake            string `toml:"cmake" default:"cmake" usage:"CMake executable"`
		Source           string `toml:"source" default:"../../" usage:"Source directory, relative to the build directory"`
		WindowsDir       string `toml:"windows_dir" default:"build/windows"`
		WindowsGenerator string `toml:"windows_generator" default:"Visual Studio 16 2019"`
		DarwinDir        string `toml:"darwin_dir" default:"build/macos"`
		DarwinGenerator  string `toml:"darwin_generator" default:"Xcode"`
		LinuxDir         string `toml:"linux_dir"`
		LinuxGenerator   string `toml:"linux_generator"`
	} `toml:"generate"`
}

// Target is the build directory and CMake generator used on one platform
type Target struct {
	Dir       string
	Generator string
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by cobra so aconfig only reads defaults, files and the environment.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		EnvPrefix:        "BOOTSTRAP",
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config from the given files (missing files are ignored) and validates it.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	switch cfg.Sync.Mode {
	case SyncScript:
		if len(cfg.Sync.Command) == 0 {
			return eris.New(`sync.command can't be empty in script mode`)
		}
	case SyncNative:
		if cfg.Sync.DepsFile == "" {
			return eris.New(`sync.deps_file can't be empty in native mode`)
		}
	case SyncNone:
	default:
		return eris.Errorf(`Invalid value for sync.mode: %s (must be one of script, native or none)`, cfg.Sync.Mode)
	}

	if cfg.Sync.Jobs < 1 {
		return eris.Errorf(`Invalid value for sync.jobs: %d (must be at least 1)`, cfg.Sync.Jobs)
	}

	if cfg.Generate.Cmake == "" {
		return eris.New(`generate.cmake can't be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Targets returns the generation target for every platform that has both a directory
// and a generator configured.
func (cfg *Config) Targets() map[platform.Name]Target {
	gen := cfg.Generate
	candidates := map[platform.Name]Target{
		platform.Windows: {Dir: gen.WindowsDir, Generator: gen.WindowsGenerator},
		platform.Darwin:  {Dir: gen.DarwinDir, Generator: gen.DarwinGenerator},
		platform.Linux:   {Dir: gen.LinuxDir, Generator: gen.LinuxGenerator},
	}

	targets := make(map[platform.Name]Target, len(candidates))
	for name, target := range candidates {
		if target.Dir != "" && target.Generator != "" {
			targets[name] = target
		}
	}

	return targets
}

// Resolve turns a project relative path into an absolute one. Absolute paths are
// returned unchanged.
func (cfg *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(cfg.Root, filepath.FromSlash(path))
}
