// Package settings reads the server configuration from flags, an optional
// config file and SCALER_* environment variables.
package settings

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/spf13/viper"

	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/imgproc"
)

// EnvPrefix prefixes every environment variable, e.g. SCALER_WORKERS.
const EnvPrefix = "SCALER"

// Settings is the resolved configuration of a server.
type Settings struct {
	Address string
	Port    int

	// BaseDirs in priority order; the first holds the full resolution
	// originals.
	BaseDirs []string

	Workers    int
	MaxWaiting int
	BusyMargin int

	SendFile   bool
	MetaFile   string
	IgnoreFile string
	Recheck    time.Duration
	Watch      bool
	// Aliases maps logical alias paths onto logical targets.
	Aliases map[string]string

	AuthFile  string
	JWTSecret string

	ResultTTL  time.Duration
	ResultSize uint64

	JPEGQuality int

	LogDir   string
	LogLevel string
}

// Listen returns the listen address.
func (s *Settings) Listen() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("address", "")
	v.SetDefault("port", 8080)
	v.SetDefault("basedirs", []string{})
	v.SetDefault("workers", defaultWorkers())
	v.SetDefault("maxwaiting", 20)
	v.SetDefault("busymargin", 0)
	v.SetDefault("sendfile", true)
	v.SetDefault("metafile", dircache.DefaultMetaFile)
	v.SetDefault("ignorefile", ".scalerignore")
	v.SetDefault("recheck", time.Second)
	v.SetDefault("watch", false)
	v.SetDefault("aliases", []string{})
	v.SetDefault("authfile", "")
	v.SetDefault("jwtsecret", "")
	v.SetDefault("resultcache.ttl", 5*time.Minute)
	v.SetDefault("resultcache.size", 256)
	v.SetDefault("jpegquality", imgproc.DefaultJPEGQuality)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", "info")
}

// defaultWorkers is the number of physical cores, at least one.
func defaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return max(n, 1)
}

// Read attaches the environment and, when cfgFile is set, the config file
// to v. Environment variables override the file and flags bound to v
// override both.
func Read(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	path, err := homedir.Expand(cfgFile)
	if err != nil {
		return err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the configuration.
func Load(v *viper.Viper, cfgFile string) (*Settings, error) {
	if err := Read(v, cfgFile); err != nil {
		return nil, err
	}

	s := &Settings{
		Address:     v.GetString("address"),
		Port:        v.GetInt("port"),
		Workers:     v.GetInt("workers"),
		MaxWaiting:  v.GetInt("maxwaiting"),
		BusyMargin:  v.GetInt("busymargin"),
		SendFile:    v.GetBool("sendfile"),
		MetaFile:    v.GetString("metafile"),
		IgnoreFile:  v.GetString("ignorefile"),
		Recheck:     v.GetDuration("recheck"),
		Watch:       v.GetBool("watch"),
		JWTSecret:   v.GetString("jwtsecret"),
		ResultTTL:   v.GetDuration("resultcache.ttl"),
		ResultSize:  v.GetUint64("resultcache.size"),
		JPEGQuality: v.GetInt("jpegquality"),
		LogLevel:    v.GetString("log.level"),
	}

	var err error
	s.BaseDirs, err = expandAll(lo.Compact(v.GetStringSlice("basedirs")))
	if err != nil {
		return nil, err
	}
	if s.AuthFile, err = homedir.Expand(v.GetString("authfile")); err != nil {
		return nil, err
	}
	if s.LogDir, err = homedir.Expand(v.GetString("log.dir")); err != nil {
		return nil, err
	}
	if s.Aliases, err = parseAliases(v.GetStringSlice("aliases")); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings a server cannot start without.
func (s *Settings) Validate() error {
	var problems []error
	if len(s.BaseDirs) == 0 {
		problems = append(problems, errors.New("at least one base dir is required"))
	}
	if s.Workers < 1 {
		problems = append(problems, fmt.Errorf("workers must be at least 1, got %d", s.Workers))
	}
	if s.MaxWaiting < 0 {
		problems = append(problems, fmt.Errorf("maxwaiting must not be negative, got %d", s.MaxWaiting))
	}
	if s.BusyMargin < 0 {
		problems = append(problems, fmt.Errorf("busymargin must not be negative, got %d", s.BusyMargin))
	}
	if s.Port < 0 || s.Port > 65535 {
		problems = append(problems, fmt.Errorf("invalid port %d", s.Port))
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

func expandAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		e, err := homedir.Expand(p)
		if err != nil {
			return nil, fmt.Errorf("base dir %q: %w", p, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// parseAliases reads "alias=target" pairs. Keys are kept as written since
// logical paths are case sensitive.
func parseAliases(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		alias, target, ok := strings.Cut(pair, "=")
		alias, target = strings.TrimSpace(alias), strings.TrimSpace(target)
		if !ok || alias == "" {
			return nil, fmt.Errorf("alias %q: want alias=target", pair)
		}
		out[alias] = target
	}
	return out, nil
}
