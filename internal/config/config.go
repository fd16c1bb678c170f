package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configs holds everything the service reads from its environment.
type Configs struct {
	AppName     string `mapstructure:"app_name"`
	AppEnv      string `mapstructure:"app_env"`
	AppLogLevel string `mapstructure:"app_log_level"`
	AppPort     string `mapstructure:"app_port"`

	ModelPath   string `mapstructure:"model_path"`
	OnnxLibPath string `mapstructure:"onnx_lib_path"`

	DeviceForceCPU bool `mapstructure:"device_force_cpu"`

	ServerMaxUploadBytes  int64         `mapstructure:"server_max_upload_bytes"`
	ServerShutdownTimeout time.Duration `mapstructure:"server_shutdown_timeout"`
}

const (
	defaultModelPath      = "models/xray_model.onnx"
	defaultMaxUploadBytes = 10 << 20
)

// Load reads the configuration from the environment, falling back to
// defaults for anything unset. PORT is honoured when APP_PORT is not set.
func Load() (*Configs, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Configs
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "xray-api")
	v.SetDefault("app_env", "local")
	v.SetDefault("app_log_level", "INFO")
	v.SetDefault("app_port", "8080")
	v.SetDefault("model_path", defaultModelPath)
	v.SetDefault("onnx_lib_path", "")
	v.SetDefault("device_force_cpu", false)
	v.SetDefault("server_max_upload_bytes", defaultMaxUploadBytes)
	v.SetDefault("server_shutdown_timeout", 10*time.Second)
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"app_name":                {"APP_NAME"},
		"app_env":                 {"APP_ENV"},
		"app_log_level":           {"APP_LOG_LEVEL"},
		"app_port":                {"APP_PORT", "PORT"},
		"model_path":              {"MODEL_PATH"},
		"onnx_lib_path":           {"ONNX_LIB_PATH"},
		"device_force_cpu":        {"DEVICE_FORCE_CPU"},
		"server_max_upload_bytes": {"SERVER_MAX_UPLOAD_BYTES"},
		"server_shutdown_timeout": {"SERVER_SHUTDOWN_TIMEOUT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Configs) validate() error {
	if strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("MODEL_PATH must not be empty")
	}
	if c.ServerMaxUploadBytes <= 0 {
		return fmt.Errorf("SERVER_MAX_UPLOAD_BYTES must be positive, got %d", c.ServerMaxUploadBytes)
	}
	if c.ServerShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.ServerShutdownTimeout)
	}
	c.AppLogLevel = strings.ToUpper(c.AppLogLevel)
	return nil
}

// IsProduction reports whether the service runs in a production environment.
func (c *Configs) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}
