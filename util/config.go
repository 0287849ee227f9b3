package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

const Name = "fedmerge"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string
		HttpPort int    `yaml:"httpPort"`
		Database string `yaml:"database"`
		RedisUrl string `yaml:"redisUrl"`
		LogLevel string `yaml:"logLevel"`
		// Home instances allowed to use the API, empty allows all
		Instances     []string `yaml:"instances"`
		SkipInstances []string `yaml:"skipInstances"`

		CacheContentMins        int `yaml:"cacheContentMins"`
		StatusRequestTimeoutMs  int `yaml:"statusRequestTimeoutMs"`
		ContextRequestTimeoutMs int `yaml:"contextRequestTimeoutMs"`
		SearchTimeoutMs         int `yaml:"searchTimeoutMs"`
		InstanceCheckTimeoutMs  int `yaml:"instanceCheckTimeoutMs"`
		ProbeCeilingMs          int `yaml:"probeCeilingMs"`
		InstanceTtlHours        int `yaml:"instanceTtlHours"`

		OutboundRate  float64 `yaml:"outboundRate"`
		OutboundBurst int     `yaml:"outboundBurst"`
		UserAgent     string  `yaml:"userAgent"`
	}
}

func ReadConf() (*AppConfig, error) {
	return ReadConfFrom(ResolveFilePath(ConfigFileName))
}

func ReadConfFrom(configPath string) (*AppConfig, error) {

	c := &AppConfig{}

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if _, statErr := os.Stat(userConfigPath); os.IsNotExist(statErr) {
				writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
				if writeErr != nil {
					log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
				} else {
					log.Printf("Created default config file at %s", userConfigPath)
				}
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)
	c.applyDefaults()

	return c, nil
}

// DefaultConfig is the configuration with every default applied and no file read
func DefaultConfig() *AppConfig {
	c := &AppConfig{}
	c.applyDefaults()
	return c
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("FEDMERGE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("FEDMERGE_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: ignoring FEDMERGE_HTTPPORT: %v", err)
		} else {
			c.Conf.HttpPort = port
		}
	}
	if v := os.Getenv("FEDMERGE_DATABASE"); v != "" {
		c.Conf.Database = v
	}
	if v := os.Getenv("FEDMERGE_REDIS_URL"); v != "" {
		c.Conf.RedisUrl = v
	}
	if v := os.Getenv("FEDMERGE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if v := os.Getenv("FEDMERGE_INSTANCES"); v != "" {
		c.Conf.Instances = splitList(v)
	}
	if v := os.Getenv("FEDMERGE_SKIP_INSTANCES"); v != "" {
		c.Conf.SkipInstances = splitList(v)
	}
	if v := os.Getenv("FEDMERGE_CACHE_CONTENT_MINS"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: ignoring FEDMERGE_CACHE_CONTENT_MINS: %v", err)
		} else {
			c.Conf.CacheContentMins = mins
		}
	}
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.Host == "" {
		c.Conf.Host = "127.0.0.1"
	}
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9090
	}
	if c.Conf.Database == "" {
		c.Conf.Database = "fedmerge.db"
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
	if c.Conf.CacheContentMins == 0 {
		c.Conf.CacheContentMins = 30
	}
	if c.Conf.StatusRequestTimeoutMs == 0 {
		c.Conf.StatusRequestTimeoutMs = 1000
	}
	if c.Conf.ContextRequestTimeoutMs == 0 {
		c.Conf.ContextRequestTimeoutMs = 2000
	}
	if c.Conf.SearchTimeoutMs == 0 {
		c.Conf.SearchTimeoutMs = 10000
	}
	if c.Conf.InstanceCheckTimeoutMs == 0 {
		c.Conf.InstanceCheckTimeoutMs = 5000
	}
	if c.Conf.ProbeCeilingMs == 0 {
		c.Conf.ProbeCeilingMs = 2000
	}
	if c.Conf.InstanceTtlHours == 0 {
		c.Conf.InstanceTtlHours = 24
	}
	if c.Conf.OutboundRate == 0 {
		c.Conf.OutboundRate = 5
	}
	if c.Conf.OutboundBurst == 0 {
		c.Conf.OutboundBurst = 10
	}
	if c.Conf.UserAgent == "" {
		c.Conf.UserAgent = GetNameAndVersion()
	}
}

func (c *AppConfig) StatusRequestTimeout() time.Duration {
	return time.Duration(c.Conf.StatusRequestTimeoutMs) * time.Millisecond
}

func (c *AppConfig) ContextRequestTimeout() time.Duration {
	return time.Duration(c.Conf.ContextRequestTimeoutMs) * time.Millisecond
}

func (c *AppConfig) SearchTimeout() time.Duration {
	return time.Duration(c.Conf.SearchTimeoutMs) * time.Millisecond
}

func (c *AppConfig) InstanceCheckTimeout() time.Duration {
	return time.Duration(c.Conf.InstanceCheckTimeoutMs) * time.Millisecond
}

func (c *AppConfig) ProbeCeiling() time.Duration {
	return time.Duration(c.Conf.ProbeCeilingMs) * time.Millisecond
}

func (c *AppConfig) InstanceTTL() time.Duration {
	return time.Duration(c.Conf.InstanceTtlHours) * time.Hour
}

func (c *AppConfig) ContentTTL() time.Duration {
	return time.Duration(c.Conf.CacheContentMins) * time.Minute
}

// Fingerprint changes whenever a setting that affects stored instance
// capabilities changes
func (c *AppConfig) Fingerprint() string {
	buf, _ := yaml.Marshal(struct {
		Instances     []string
		SkipInstances []string
		UserAgent     string
	}{c.Conf.Instances, c.Conf.SkipInstances, c.Conf.UserAgent})
	return strconv.FormatUint(xxhash.Sum64(buf), 16)
}

// IsSkipped reports whether host is on the user's skip list
func (c *AppConfig) IsSkipped(host string) bool {
	return containsHost(c.Conf.SkipInstances, host)
}

// IsAllowedHome reports whether requests on behalf of host are served
func (c *AppConfig) IsAllowedHome(host string) bool {
	if len(c.Conf.Instances) == 0 {
		return true
	}
	return containsHost(c.Conf.Instances, host)
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
