package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Judge     JudgeConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Address string
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

// DSN 組出 pgx 使用的連線字串，與 gorm 共用同一組設定
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

type JWTConfig struct {
	Secret string
}

// JudgeConfig 描述外部評審模型（Ark）的設定
type JudgeConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	Region         string
	TimeoutSeconds int // 單次評審呼叫的牆鐘超時
}

func (c JudgeConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// RateLimitConfig 各自獨立計量的配額設定
type RateLimitConfig struct {
	SubmitQuota         int // 每個用戶在窗口內可提交的發言數
	SubmitWindowSeconds int
	JudgeQuota          int // 評審呼叫的全域配額
	JudgeWindowSeconds  int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./pkg/config")
	viper.AddConfigPath(".")

	// 環境變量可覆蓋設定檔，例如 DEBATE_JUDGE_APIKEY
	viper.SetEnvPrefix("DEBATE")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// 設定檔缺失時退回預設值加環境變量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("judge.timeoutseconds", 30)
	viper.SetDefault("ratelimit.submitquota", 30)
	viper.SetDefault("ratelimit.submitwindowseconds", 60)
	viper.SetDefault("ratelimit.judgequota", 10)
	viper.SetDefault("ratelimit.judgewindowseconds", 60)
}
