// Package config provides the configuration structure for the avatar-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Speech engine kinds.
const (
	SpeechEngineCLI  = "cli"
	SpeechEngineHTTP = "http"
)

const defaultFidelityWeight = 0.7

var (
	// ErrTalkingHeadRootEmpty indicates that the DreamTalk installation root is not configured.
	ErrTalkingHeadRootEmpty = errors.New("talking_head.root cannot be empty")
	// ErrWorkDirEmpty indicates that the scratch directory is not configured.
	ErrWorkDirEmpty = errors.New("paths.work_dir cannot be empty")
	// ErrUnknownSpeechEngine indicates that speech.engine is neither cli nor http.
	ErrUnknownSpeechEngine = errors.New("unknown speech engine")
	// ErrSpeechServiceURLEmpty indicates that the http engine has no service URL.
	ErrSpeechServiceURLEmpty = errors.New("speech.service_url cannot be empty for the http engine")
	// ErrFidelityWeightRange is returned when enhancement.fidelity_weight falls outside [0, 1].
	ErrFidelityWeightRange = errors.New("enhancement.fidelity_weight must be between 0 and 1")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobsStreamName         string `toml:"jobs_stream_name"`
	JobsConsumerName       string `toml:"jobs_consumer_name"`
	JobSubmittedSubject    string `toml:"job_submitted_subject"`
	JobCompletedSubject    string `toml:"job_completed_subject"`
	JobsBucket             string `toml:"jobs_bucket"`
	VideoObjectStoreBucket string `toml:"video_object_store_bucket"`
	AckWaitSeconds         int    `toml:"ack_wait_seconds"`
}

// HTTPConfig holds the configuration for the HTTP boundary.
type HTTPConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	UserHeader  string `toml:"user_header"`

	// CallbackToken enables the completion callback when set.
	CallbackToken string `toml:"callback_token"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ImageDir    string `toml:"image_dir"`
	AudioDir    string `toml:"audio_dir"`
	VideoDir    string `toml:"video_dir"`
	WorkDir     string `toml:"work_dir"`
}

// SpeechConfig holds the configuration of the speech synthesizer.
type SpeechConfig struct {
	Engine         string            `toml:"engine"`
	Binary         string            `toml:"binary"`
	ModelPath      string            `toml:"model_path"`
	ConfigPath     string            `toml:"config_path"`
	Language       string            `toml:"language"`
	ServiceURL     string            `toml:"service_url"`
	Temperature    float64           `toml:"temperature"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	NormalizeText  bool              `toml:"normalize_text"`
	DefaultVoice   string            `toml:"default_voice"`
	Voices         map[string]string `toml:"voices"`
}

// TalkingHeadConfig holds the configuration of the DreamTalk generator.
// StyleClip and Pose are relative to Root unless absolute.
type TalkingHeadConfig struct {
	Root           string  `toml:"root"`
	Python         string  `toml:"python"`
	Script         string  `toml:"script"`
	StyleClip      string  `toml:"style_clip"`
	Pose           string  `toml:"pose"`
	CfgScale       float64 `toml:"cfg_scale"`
	MaxGenLen      int     `toml:"max_gen_len"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// EnhancementConfig holds the configuration of the CodeFormer face restoration stage.
type EnhancementConfig struct {
	Enabled          bool     `toml:"enabled"`
	Root             string   `toml:"root"`
	Python           string   `toml:"python"`
	Script           string   `toml:"script"`
	FidelityWeight   *float64 `toml:"fidelity_weight"`
	SkipFaceUpsample bool     `toml:"skip_face_upsample"`
	BgUpsampler      string   `toml:"bg_upsampler"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
}

// Fidelity returns the configured CodeFormer weight. Zero is a valid weight, so
// the setting is a pointer and only an absent key takes the default.
func (e EnhancementConfig) Fidelity() float64 {
	if e.FidelityWeight == nil {
		return defaultFidelityWeight
	}

	return *e.FidelityWeight
}

// ReassemblyConfig holds the configuration of the encoder and muxer.
type ReassemblyConfig struct {
	FFmpeg             string `toml:"ffmpeg"`
	FFprobe            string `toml:"ffprobe"`
	VideoCodec         string `toml:"video_codec"`
	AudioCodec         string `toml:"audio_codec"`
	IntermediateFourCC string `toml:"intermediate_fourcc"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// PipelineConfig holds coordinator settings.
type PipelineConfig struct {
	MaxConcurrentJobs int  `toml:"max_concurrent_jobs"`
	KeepIntermediates bool `toml:"keep_intermediates"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	HTTP        HTTPConfig        `toml:"http"`
	Paths       PathsConfig       `toml:"paths"`
	Speech      SpeechConfig      `toml:"speech"`
	TalkingHead TalkingHeadConfig `toml:"talking_head"`
	Enhancement EnhancementConfig `toml:"enhancement"`
	Reassembly  ReassemblyConfig  `toml:"reassembly"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
}

// Load loads the configuration for the avatar-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every zero-valued setting that has a sensible default.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, "nats://127.0.0.1:4222")
	setString(&c.NATS.JobsStreamName, "AVATAR_JOBS")
	setString(&c.NATS.JobsConsumerName, "avatar-workers")
	setString(&c.NATS.JobSubmittedSubject, "avatar.job.submitted")
	setString(&c.NATS.JobCompletedSubject, "avatar.job.completed")
	setString(&c.NATS.JobsBucket, "AVATAR_JOBS_KV")
	setString(&c.NATS.VideoObjectStoreBucket, "AVATAR_VIDEOS")
	setInt(&c.NATS.AckWaitSeconds, 3600)

	setString(&c.HTTP.ListenAddr, ":5001")
	setInt(&c.HTTP.MaxUploadMB, 16)
	setString(&c.HTTP.UserHeader, "X-User-ID")

	setString(&c.Paths.BaseLogsDir, "logs")
	setString(&c.Paths.ImageDir, "data/src_img")
	setString(&c.Paths.AudioDir, "static/audio")
	setString(&c.Paths.VideoDir, "static/video")
	setString(&c.Paths.WorkDir, "work")

	c.applySpeechDefaults()

	setString(&c.TalkingHead.Python, "python")
	setString(&c.TalkingHead.Script, "inference_for_demo_video.py")
	setString(&c.TalkingHead.StyleClip, "data/style_clip/3DMM/W009_front_sad_level3_001.mat")
	setString(&c.TalkingHead.Pose, "data/pose/RichardShelby_front_neutral_level1_001.mat")
	setFloat(&c.TalkingHead.CfgScale, 1.0)
	setInt(&c.TalkingHead.MaxGenLen, 40)
	setInt(&c.TalkingHead.TimeoutSeconds, 1800)

	setString(&c.Enhancement.Python, "python")
	setString(&c.Enhancement.Script, "inference_codeformer.py")
	if c.Enhancement.FidelityWeight == nil {
		weight := defaultFidelityWeight
		c.Enhancement.FidelityWeight = &weight
	}

	setString(&c.Enhancement.BgUpsampler, "realesrgan")
	setInt(&c.Enhancement.TimeoutSeconds, 3600)

	setString(&c.Reassembly.FFmpeg, "ffmpeg")
	setString(&c.Reassembly.FFprobe, "ffprobe")
	setString(&c.Reassembly.VideoCodec, "libx264")
	setString(&c.Reassembly.AudioCodec, "aac")
	setString(&c.Reassembly.IntermediateFourCC, "mp4v")
	setInt(&c.Reassembly.TimeoutSeconds, 900)

	setInt(&c.Pipeline.MaxConcurrentJobs, 1)
}

func (c *Config) applySpeechDefaults() {
	setString(&c.Speech.Engine, SpeechEngineCLI)
	setString(&c.Speech.Binary, "tts")
	setString(&c.Speech.ModelPath, "models/XTTS-v2")
	setString(&c.Speech.ConfigPath, "models/XTTS-v2/config.json")
	setString(&c.Speech.Language, "en")
	setFloat(&c.Speech.Temperature, 0.75)
	setInt(&c.Speech.TimeoutSeconds, 300)
	setString(&c.Speech.DefaultVoice, "Damien Black")

	if len(c.Speech.Voices) == 0 {
		c.Speech.Voices = map[string]string{
			"male":   "Damien Black",
			"female": "Sarah Johnson",
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TalkingHead.Root == "" {
		return ErrTalkingHeadRootEmpty
	}

	if c.Paths.WorkDir == "" {
		return ErrWorkDirEmpty
	}

	weight := c.Enhancement.Fidelity()
	if weight < 0 || weight > 1 {
		return fmt.Errorf("%w: %v", ErrFidelityWeightRange, weight)
	}

	switch c.Speech.Engine {
	case SpeechEngineCLI:
	case SpeechEngineHTTP:
		if c.Speech.ServiceURL == "" {
			return ErrSpeechServiceURLEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSpeechEngine, c.Speech.Engine)
	}

	return nil
}

// Seconds converts a configured number of seconds into a duration.
func Seconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func setString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if *target == 0 {
		*target = value
	}
}

func setFloat(target *float64, value float64) {
	if *target == 0 {
		*target = value
	}
}
