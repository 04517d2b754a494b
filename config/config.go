package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("rover.home", "ROVER_HOME")
	v.BindEnv("profile.path", "ROVER_PROFILE_PATH")
	v.BindEnv("control.transport", "ROVER_CONTROL_TRANSPORT")
	v.BindEnv("control.host", "ROVER_CONTROL_HOST")
	v.BindEnv("control.port", "ROVER_CONTROL_PORT")
	v.BindEnv("control.path", "ROVER_CONTROL_PATH")
	v.BindEnv("control.connect_timeout", "ROVER_CONNECT_TIMEOUT")
	v.BindEnv("control.auto_retry", "ROVER_AUTO_RETRY")
	v.BindEnv("control.max_retries", "ROVER_MAX_RETRIES")
	v.BindEnv("control.retry_delay", "ROVER_RETRY_DELAY")
	v.BindEnv("control.pacing.beta", "ROVER_PACING_BETA")
	v.BindEnv("control.pacing.speed", "ROVER_PACING_SPEED")
	v.BindEnv("control.send_buffer", "ROVER_SEND_BUFFER")
	v.BindEnv("video.mode", "ROVER_VIDEO_MODE")
	v.BindEnv("video.host", "ROVER_VIDEO_HOST")
	v.BindEnv("video.port", "ROVER_VIDEO_PORT")
	v.BindEnv("video.path", "ROVER_VIDEO_PATH")
	v.BindEnv("video.reconnect_delay", "ROVER_VIDEO_RECONNECT_DELAY")
	v.BindEnv("video.fetch_backoff", "ROVER_VIDEO_FETCH_BACKOFF")
	v.BindEnv("video.fetch_interval", "ROVER_VIDEO_FETCH_INTERVAL")
	v.BindEnv("video.fetch_timeout", "ROVER_VIDEO_FETCH_TIMEOUT")
	v.BindEnv("drive.tick", "ROVER_DRIVE_TICK")
	v.BindEnv("drive.sampling_period", "ROVER_SAMPLING_PERIOD")
	v.BindEnv("drive.max_throttle", "ROVER_MAX_THROTTLE")
	v.BindEnv("preview.port", "ROVER_PREVIEW_PORT")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		GetRoverHome(),
		"/etc/rover",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rover.home", filepath.Join(xdg.Home, ".rover"))
	v.SetDefault("profile.path", "")

	v.SetDefault("control.transport", "ws")
	v.SetDefault("control.host", "")
	v.SetDefault("control.port", 8765)
	v.SetDefault("control.path", "/")
	v.SetDefault("control.connect_timeout", 5*time.Second)
	v.SetDefault("control.auto_retry", true)
	v.SetDefault("control.max_retries", 3)
	v.SetDefault("control.retry_delay", 2*time.Second)
	v.SetDefault("control.pacing.beta", 20*time.Millisecond)
	v.SetDefault("control.pacing.speed", 33*time.Millisecond)
	v.SetDefault("control.send_buffer", 4)

	v.SetDefault("video.mode", "push")
	v.SetDefault("video.host", "")
	v.SetDefault("video.port", 5000)
	v.SetDefault("video.path", "")
	v.SetDefault("video.reconnect_delay", 5*time.Second)
	v.SetDefault("video.fetch_backoff", 250*time.Millisecond)
	v.SetDefault("video.fetch_interval", 33*time.Millisecond)
	v.SetDefault("video.fetch_timeout", 3*time.Second)

	v.SetDefault("drive.tick", 33*time.Millisecond)
	v.SetDefault("drive.sampling_period", 16*time.Millisecond)
	v.SetDefault("drive.max_throttle", 255)

	v.SetDefault("preview.port", 29890)
}

// GetRoverHome returns the rover home directory
func GetRoverHome() string {
	return v.GetString("rover.home")
}

// GetProfilePath returns the profile file path
func GetProfilePath() string {
	if profilePath := v.GetString("profile.path"); profilePath != "" {
		return profilePath
	}
	return filepath.Join(GetRoverHome(), "profiles.toml")
}

// GetControlTransport returns the control transport name (ws or tcp)
func GetControlTransport() string {
	return v.GetString("control.transport")
}

// GetControlHost returns the default vehicle host
func GetControlHost() string {
	return v.GetString("control.host")
}

// GetControlPort returns the default vehicle control port
func GetControlPort() int {
	return v.GetInt("control.port")
}

// GetControlPath returns the WebSocket path of the control endpoint
func GetControlPath() string {
	return v.GetString("control.path")
}

func GetConnectTimeout() time.Duration {
	return v.GetDuration("control.connect_timeout")
}

func GetAutoRetry() bool {
	return v.GetBool("control.auto_retry")
}

func GetMaxRetries() int {
	return v.GetInt("control.max_retries")
}

func GetRetryDelay() time.Duration {
	return v.GetDuration("control.retry_delay")
}

// GetPacing returns the minimum emission interval for a command kind name
func GetPacing(kind string) time.Duration {
	return v.GetDuration("control.pacing." + kind)
}

func GetSendBuffer() int {
	return v.GetInt("control.send_buffer")
}

// GetVideoMode returns the configured frame source strategy
func GetVideoMode() string {
	return v.GetString("video.mode")
}

// GetVideoHost returns the video host, falling back to the control host
func GetVideoHost() string {
	if host := v.GetString("video.host"); host != "" {
		return host
	}
	return GetControlHost()
}

func GetVideoPort() int {
	return v.GetInt("video.port")
}

// GetVideoPath returns the configured frame path; empty means the mode default
func GetVideoPath() string {
	return v.GetString("video.path")
}

func GetVideoReconnectDelay() time.Duration {
	return v.GetDuration("video.reconnect_delay")
}

func GetVideoFetchBackoff() time.Duration {
	return v.GetDuration("video.fetch_backoff")
}

func GetVideoFetchInterval() time.Duration {
	return v.GetDuration("video.fetch_interval")
}

func GetVideoFetchTimeout() time.Duration {
	return v.GetDuration("video.fetch_timeout")
}

func GetDriveTick() time.Duration {
	return v.GetDuration("drive.tick")
}

func GetSamplingPeriod() time.Duration {
	return v.GetDuration("drive.sampling_period")
}

func GetMaxThrottle() int {
	return v.GetInt("drive.max_throttle")
}

func GetPreviewPort() int {
	return v.GetInt("preview.port")
}
