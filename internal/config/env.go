package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".revloop/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"revloop/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// LogStoreEnv configures where run event logs and snapshots land. Empty
// values fall back to the summary storage settings.
type LogStoreEnv struct {
	LogType    string `envconfig:"LOG_STORAGE_TYPE"`
	LogBaseDir string `envconfig:"LOG_STORAGE_BASE_DIR"`
	LogBucket  string `envconfig:"LOG_S3_BUCKET"`
	LogPrefix  string `envconfig:"LOG_S3_PREFIX"`
}

type RunnerEnv struct {
	WorkspaceRoot string `envconfig:"WORKSPACE_ROOT" default:"."`
	ClaudeCLIPath string `envconfig:"CLAUDE_CLI_PATH"`
	DefaultModel  string `envconfig:"DEFAULT_MODEL"`
}

type PushEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `envconfig:"VAPID_SUBSCRIBER" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	LogStoreEnv
	RunnerEnv
	PushEnv
}

const namespace = "REVLOOP"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

// LogStorageEnv resolves the log store settings, falling back to the summary
// storage settings for any field left empty.
func (e *Env) LogStorageEnv() *StorageEnv {
	out := e.StorageEnv
	if e.LogType != "" {
		out.Type = e.LogType
	}
	if e.LogBaseDir != "" {
		out.BaseDir = e.LogBaseDir
	}
	if e.LogBucket != "" {
		out.S3Bucket = e.LogBucket
	}
	if e.LogPrefix != "" {
		out.S3Prefix = e.LogPrefix
	}
	return &out
}
