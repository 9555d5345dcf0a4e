// Package config loads the agent's sectioned key-value configuration file.
//
// The shape ([POOL], [COLLECTOR:<name>], ...) is exactly what gopkg.in/ini.v1
// is built to parse; the pack pulls it in transitively (ysaquib-sf-processor's
// viper stack) and it is used here directly rather than through viper, since
// there is no need for viper's remote-backend or env-override machinery.
package config

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// SinkType identifies which concrete sink a [COLLECTOR:name] section builds.
type SinkType string

// Recognized sink types.
const (
	SinkKafka  SinkType = "kafka"
	SinkStdout SinkType = "stdout"
)

// SinkConfig is one [COLLECTOR:<name>] section.
type SinkConfig struct {
	Name    string
	Type    SinkType
	Servers []string // kafka: SERVER, comma-separated
	Topic   string   // kafka: TOPIC
}

// Config is the read-only view of the agent's configuration consumed by the
// core: pool path and pattern, which sink receives this agent's records, the
// offset store path, and the full named set of sink configurations.
type Config struct {
	LogHandler string

	OffsetFile string

	PoolPath        string
	FilenamePattern *regexp.Regexp
	SinkName        string

	Sinks map[string]SinkConfig
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}

	cfg := &Config{}

	if file.HasSection("LOG") {
		cfg.LogHandler = file.Section("LOG").Key("LOG_HANDLER").String()
	}

	if !file.HasSection("TEMP") {
		return nil, errors.New("config: missing [TEMP] section")
	}
	cfg.OffsetFile = file.Section("TEMP").Key("PICKLE_FILE").String()
	if cfg.OffsetFile == "" {
		return nil, errors.New("config: [TEMP] PICKLE_FILE is required")
	}

	if !file.HasSection("POOL") {
		return nil, errors.New("config: missing [POOL] section")
	}
	pool := file.Section("POOL")
	cfg.PoolPath = pool.Key("POOL_PATH").String()
	if cfg.PoolPath == "" {
		return nil, errors.New("config: [POOL] POOL_PATH is required")
	}

	patternStr := pool.Key("FILENAME_PATTERN").String()
	if patternStr == "" {
		return nil, errors.New("config: [POOL] FILENAME_PATTERN is required")
	}
	pattern, err := regexp.Compile(patternStr)
	if err != nil {
		return nil, errors.Wrapf(err, "config: invalid FILENAME_PATTERN %q", patternStr)
	}
	cfg.FilenamePattern = pattern

	cfg.SinkName = pool.Key("COLLECTOR").String()
	if cfg.SinkName == "" {
		return nil, errors.New("config: [POOL] COLLECTOR is required")
	}

	cfg.Sinks = make(map[string]SinkConfig)
	for _, section := range file.Sections() {
		name, ok := strings.CutPrefix(section.Name(), "COLLECTOR:")
		if !ok {
			continue
		}

		sinkType := SinkType(strings.ToLower(section.Key("TYPE").String()))
		sc := SinkConfig{Name: name, Type: sinkType}

		switch sinkType {
		case SinkKafka:
			servers := section.Key("SERVER").String()
			if servers == "" {
				return nil, errors.Errorf("config: [COLLECTOR:%s] SERVER is required for kafka", name)
			}
			for _, s := range strings.Split(servers, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sc.Servers = append(sc.Servers, s)
				}
			}
			sc.Topic = section.Key("TOPIC").String()
			if sc.Topic == "" {
				return nil, errors.Errorf("config: [COLLECTOR:%s] TOPIC is required for kafka", name)
			}
		case SinkStdout:
			// no additional fields
		default:
			return nil, errors.Errorf("config: [COLLECTOR:%s] has unknown TYPE %q", name, sinkType)
		}

		cfg.Sinks[name] = sc
	}

	if _, ok := cfg.Sinks[cfg.SinkName]; !ok {
		return nil, errors.Errorf("config: POOL COLLECTOR %q has no matching [COLLECTOR:%s] section", cfg.SinkName, cfg.SinkName)
	}

	return cfg, nil
}
