package common

import (
	"go.uber.org/zap"
)

// NewLogger는 중앙 Config를 읽어 zap logger를 생성합니다.
// name이 비어 있지 않으면 Named logger를 반환합니다.
func NewLogger(name string) (*zap.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return NewLoggerWithConfig(name, cfg)
}

// NewLoggerWithConfig는 주어진 Config 기준으로 zap logger를 생성합니다.
// TINYGEN_ENV가 production이면 JSON 인코딩, 그 외에는 개발용 콘솔 출력입니다.
func NewLoggerWithConfig(name string, cfg *Config) (*zap.Logger, error) {
	var config zap.Config
	if cfg.App.ENV == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	// TINYGEN_LOG_LEVEL이 설정되어 있으면 적용
	if cfg.App.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.App.LogLevel)
		if err == nil {
			config.Level = level
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	if name != "" {
		return logger.Named(name), nil
	}

	return logger, nil
}
