package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        App        `yaml:"app"`
	Server     Server     `yaml:"server"`
	Recording  Recording  `yaml:"recording"`
	Capture    Capture    `yaml:"capture"`
	Transcoder Transcoder `yaml:"transcoder"`
	Upload     Upload     `yaml:"upload"`
	Database   Database   `yaml:"database"`
	Minio      Minio      `yaml:"minio"`
	Queue      *RabbitMQ  `yaml:"rabbitmq"`
	Discovery  Discovery  `yaml:"discovery"`
}

type App struct {
	Environment string `yaml:"environment"`
	DeviceID    string `yaml:"device_id"`
}

type Server struct {
	HttpPort string `yaml:"port"`
	Workers  int    `yaml:"workers"`
}

type Recording struct {
	Dir                string        `yaml:"dir"`
	ChunkSizeMB        int64         `yaml:"chunk_size_mb"`
	ChunkCheckInterval time.Duration `yaml:"chunk_check_interval"`
	GpsInterval        time.Duration `yaml:"gps_interval"`
	AudioEnabled       bool          `yaml:"audio_enabled"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	MinAudioBytes      int64         `yaml:"min_audio_bytes"`
	FPS                int           `yaml:"fps"`
}

func (r Recording) ChunkSizeBytes() int64 {
	return r.ChunkSizeMB * 1024 * 1024
}

type Capture struct {
	Driver      string `yaml:"driver"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Bitrate     int    `yaml:"bitrate"`
	AudioDevice string `yaml:"audio_device"`
}

type Transcoder struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	Nice       bool   `yaml:"nice"`
}

type Upload struct {
	Backend        string        `yaml:"backend"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	StatusLinger   time.Duration `yaml:"status_linger"`
	MetadataFormat string        `yaml:"metadata_format"`
	Auto           bool          `yaml:"auto"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Minio struct {
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Secure          bool   `yaml:"secure"`
}

// Discovery answers LAN broadcasts from the companion app.
type Discovery struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	MagicWord   string `yaml:"magic_word"`
	ReplyPrefix string `yaml:"reply_prefix"`
}

type RabbitMQ struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	CommandQueue string `json:"command_queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "production")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.workers", 1)

	v.SetDefault("recording.dir", "recordings")
	v.SetDefault("recording.chunk_size_mb", 60)
	v.SetDefault("recording.chunk_check_interval", "10s")
	v.SetDefault("recording.gps_interval", "5s")
	v.SetDefault("recording.audio_enabled", true)
	v.SetDefault("recording.settle_delay", "2s")
	v.SetDefault("recording.min_audio_bytes", 1000)
	v.SetDefault("recording.fps", 30)

	v.SetDefault("capture.driver", "rpicam")
	v.SetDefault("capture.width", 1280)
	v.SetDefault("capture.height", 720)
	v.SetDefault("capture.bitrate", 4000000)
	v.SetDefault("capture.audio_device", "hw:3,0")

	v.SetDefault("transcoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcoder.nice", true)

	v.SetDefault("upload.backend", "http")
	v.SetDefault("upload.timeout", "180s")
	v.SetDefault("upload.retry_delay", "1s")
	v.SetDefault("upload.status_linger", "3s")
	v.SetDefault("upload.metadata_format", "split")
	v.SetDefault("upload.auto", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("minio.prefix", "helmet")

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.exchange_name", "helmet_exchange")
	v.SetDefault("rabbitmq.kind", "topic")
	v.SetDefault("rabbitmq.command_queue", "helmet_commands")

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.port", 5002)
	v.SetDefault("discovery.magic_word", "WHO_IS_RPI_CAM?")
	v.SetDefault("discovery.reply_prefix", "I_AM_RPI_CAM")
}

// Load reads config.yaml from path when present. Every key can be overridden
// from the environment, e.g. HELMET_UPLOAD_URL for upload.url.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("helmet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	deviceID := v.GetString("app.device_id")
	if deviceID == "" {
		deviceID = cpuSerial("/proc/cpuinfo")
	}

	return &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			DeviceID:    deviceID,
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Recording: Recording{
			Dir:                v.GetString("recording.dir"),
			ChunkSizeMB:        v.GetInt64("recording.chunk_size_mb"),
			ChunkCheckInterval: v.GetDuration("recording.chunk_check_interval"),
			GpsInterval:        v.GetDuration("recording.gps_interval"),
			AudioEnabled:       v.GetBool("recording.audio_enabled"),
			SettleDelay:        v.GetDuration("recording.settle_delay"),
			MinAudioBytes:      v.GetInt64("recording.min_audio_bytes"),
			FPS:                v.GetInt("recording.fps"),
		},
		Capture: Capture{
			Driver:      v.GetString("capture.driver"),
			Width:       v.GetInt("capture.width"),
			Height:      v.GetInt("capture.height"),
			Bitrate:     v.GetInt("capture.bitrate"),
			AudioDevice: v.GetString("capture.audio_device"),
		},
		Transcoder: Transcoder{
			FFmpegPath: v.GetString("transcoder.ffmpeg_path"),
			Nice:       v.GetBool("transcoder.nice"),
		},
		Upload: Upload{
			Backend:        v.GetString("upload.backend"),
			URL:            v.GetString("upload.url"),
			APIKey:         v.GetString("upload.api_key"),
			Timeout:        v.GetDuration("upload.timeout"),
			RetryDelay:     v.GetDuration("upload.retry_delay"),
			StatusLinger:   v.GetDuration("upload.status_linger"),
			MetadataFormat: v.GetString("upload.metadata_format"),
			Auto:           v.GetBool("upload.auto"),
		},
		Database: Database{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Minio: Minio{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Prefix:          v.GetString("minio.prefix"),
			Secure:          v.GetBool("minio.secure"),
		},
		Queue: &RabbitMQ{
			Enabled:      v.GetBool("rabbitmq.enabled"),
			Host:         v.GetString("rabbitmq.host"),
			Port:         v.GetInt("rabbitmq.port"),
			User:         v.GetString("rabbitmq.user"),
			Pass:         v.GetString("rabbitmq.pass"),
			ExchangeName: v.GetString("rabbitmq.exchange_name"),
			Kind:         v.GetString("rabbitmq.kind"),
			CommandQueue: v.GetString("rabbitmq.command_queue"),
		},
		Discovery: Discovery{
			Enabled:     v.GetBool("discovery.enabled"),
			Port:        v.GetInt("discovery.port"),
			MagicWord:   v.GetString("discovery.magic_word"),
			ReplyPrefix: v.GetString("discovery.reply_prefix"),
		},
	}, nil
}

// cpuSerial returns the Raspberry Pi board serial, or "unknown".
func cpuSerial(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Serial") {
			continue
		}
		if _, serial, ok := strings.Cut(line, ":"); ok {
			if serial = strings.TrimSpace(serial); serial != "" {
				return serial
			}
		}
	}
	return "unknown"
}
