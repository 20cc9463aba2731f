package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 애플리케이션의 모든 설정을 관리합니다.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	GitHub    GitHubConfig    `yaml:"github"`
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Directory DirectoryConfig `yaml:"directory"`
}

// AppConfig는 애플리케이션 기본 설정입니다.
type AppConfig struct {
	// ENV는 실행 환경입니다 (development, production)
	ENV string `yaml:"env"`
	// LogLevel은 애플리케이션 로그 레벨입니다 (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig는 데이터베이스 설정입니다.
type DatabaseConfig struct {
	// DSN은 데이터베이스 연결 문자열입니다 (postgres:// 또는 SQLite 파일 경로)
	DSN string `yaml:"dsn"`
	// LogLevel은 GORM 로그 레벨입니다
	LogLevel gormlogger.LogLevel `yaml:"log_level"`
	// MaxIdleConns는 연결 풀의 idle 연결 개수입니다
	MaxIdleConns int `yaml:"max_idle_conns"`
	// MaxOpenConns는 연결 풀의 최대 연결 개수입니다
	MaxOpenConns int `yaml:"max_open_conns"`
	// ConnMaxLifetime은 연결의 최대 수명입니다
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// SkipDefaultTxn은 기본 트랜잭션을 스킵할지 여부입니다
	SkipDefaultTxn bool `yaml:"skip_default_txn"`
	// PrepareStmt는 prepared statement 캐시를 사용할지 여부입니다
	PrepareStmt bool `yaml:"prepare_stmt"`
	// DisableAutomaticPing은 자동 ping을 비활성화할지 여부입니다
	DisableAutomaticPing bool `yaml:"disable_automatic_ping"`
}

// BackendConfig는 agent-runner 게이트웨이 설정입니다.
type BackendConfig struct {
	// BaseURL은 agent-runner 백엔드 주소입니다 (클라이언트용)
	BaseURL string `yaml:"base_url"`
	// ListenAddr은 게이트웨이 서버의 수신 주소입니다
	ListenAddr string `yaml:"listen_addr"`
}

// GitHubConfig는 GitHub App 연동 설정입니다.
type GitHubConfig struct {
	// APIBaseURL은 GitHub API 주소입니다 (기본: https://api.github.com)
	APIBaseURL string `yaml:"api_base_url"`
	// AppToken은 installation 조회에 사용할 App JWT입니다.
	// 토큰 발급 자체는 배포 환경의 책임입니다.
	AppToken string `yaml:"app_token"`
}

// APIKeysConfig는 외부 API 키 설정입니다.
type APIKeysConfig struct {
	// Anthropic은 Anthropic API 키입니다
	Anthropic string `yaml:"anthropic"`
	// OpenAI는 OpenAI API 키입니다
	OpenAI string `yaml:"openai"`
	// GitHubToken은 sandbox에서 repo clone에 사용할 토큰입니다
	GitHubToken string `yaml:"github_token"`
}

// SandboxConfig는 sandbox 실행 환경 설정입니다.
type SandboxConfig struct {
	// Image는 Docker 이미지 이름입니다
	Image string `yaml:"image"`
	// WorkspaceDir은 워크스페이스 기본 디렉토리입니다
	WorkspaceDir string `yaml:"workspace_dir"`
}

// DirectoryConfig는 디렉토리 경로 설정입니다.
type DirectoryConfig struct {
	// TinygenDir은 기본 데이터 디렉토리입니다 (환경 변수 TINYGEN_DIR로만 설정 가능, 기본값: $HOME/.tinygen)
	TinygenDir string `yaml:"-"`
	// WorkspaceBaseDir은 워크스페이스 기본 디렉토리입니다
	WorkspaceBaseDir string `yaml:"workspace_base_dir"`
	// SQLiteDatabase는 SQLite 데이터베이스 파일 경로입니다
	SQLiteDatabase string `yaml:"sqlite_database"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// InitConfig는 설정을 초기화합니다.
// configPath가 비어있으면 ${TINYGEN_DIR}/config.yaml에서 로드를 시도하고, 파일이 없으면 환경 변수에서 로드합니다.
// 파일에서 로드한 후 환경 변수로 오버라이드됩니다.
func InitConfig(configPath string) error {
	var err error
	once.Do(func() {
		if configPath == "" {
			// TINYGEN_DIR 기본 경로 사용
			configPath = filepath.Join(getTinygenDir(), "config.yaml")
		}

		// 파일이 존재하면 파일에서 로드, 없으면 환경 변수에서 로드
		if _, statErr := os.Stat(configPath); statErr == nil {
			instance, err = LoadConfigFromFile(configPath)
		} else {
			instance, err = LoadConfigFromEnv()
		}
	})
	return err
}

// GetConfig는 싱글톤 Config 인스턴스를 반환합니다.
// InitConfig가 먼저 호출되어야 합니다.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		// InitConfig가 호출되지 않은 경우 환경 변수에서 로드 시도
		_ = InitConfig("")
	}
	return instance
}

// LoadConfig는 싱글톤 설정을 반환합니다.
func LoadConfig() (*Config, error) {
	return GetConfig(), nil
}

// LoadConfigFromFile은 YAML 파일에서 설정을 로드합니다.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	// YAML에서 로드한 후 환경 변수로 오버라이드
	cfg = mergeWithEnv(cfg)

	return cfg, nil
}

// LoadConfigFromEnv는 환경 변수에서 설정을 로드합니다.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		App:       loadAppConfig(),
		Database:  loadDatabaseConfig(),
		Backend:   loadBackendConfig(),
		GitHub:    loadGitHubConfig(),
		APIKeys:   loadAPIKeysConfig(),
		Sandbox:   loadSandboxConfig(),
		Directory: loadDirectoryConfig(),
	}

	return cfg, nil
}

// mergeWithEnv는 YAML 설정을 환경 변수로 오버라이드합니다.
func mergeWithEnv(cfg *Config) *Config {
	// App
	if env := os.Getenv("TINYGEN_ENV"); env != "" {
		cfg.App.ENV = env
	}
	if logLevel := os.Getenv("TINYGEN_LOG_LEVEL"); logLevel != "" {
		cfg.App.LogLevel = logLevel
	}

	// Database
	if dsn := os.Getenv("TINYGEN_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if logLevel := os.Getenv("TINYGEN_DB_LOG_LEVEL"); logLevel != "" {
		cfg.Database.LogLevel = parseLogLevel(logLevel)
	}
	if maxIdle := os.Getenv("TINYGEN_DB_MAX_IDLE"); maxIdle != "" {
		cfg.Database.MaxIdleConns = parseIntWithDefault(maxIdle, cfg.Database.MaxIdleConns)
	}
	if maxOpen := os.Getenv("TINYGEN_DB_MAX_OPEN"); maxOpen != "" {
		cfg.Database.MaxOpenConns = parseIntWithDefault(maxOpen, cfg.Database.MaxOpenConns)
	}
	if lifetime := os.Getenv("TINYGEN_DB_CONN_LIFETIME"); lifetime != "" {
		cfg.Database.ConnMaxLifetime = parseDurationWithDefault(lifetime, cfg.Database.ConnMaxLifetime)
	}
	if skipTxn := os.Getenv("TINYGEN_DB_SKIP_DEFAULT_TXN"); skipTxn != "" {
		cfg.Database.SkipDefaultTxn = parseBoolWithDefault(skipTxn, cfg.Database.SkipDefaultTxn)
	}
	if prepStmt := os.Getenv("TINYGEN_DB_PREPARE_STMT"); prepStmt != "" {
		cfg.Database.PrepareStmt = parseBoolWithDefault(prepStmt, cfg.Database.PrepareStmt)
	}

	// Backend
	if baseURL := os.Getenv("TINYGEN_BACKEND_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if listenAddr := os.Getenv("TINYGEN_LISTEN_ADDR"); listenAddr != "" {
		cfg.Backend.ListenAddr = listenAddr
	}

	// GitHub
	if apiBaseURL := os.Getenv("TINYGEN_GITHUB_API_URL"); apiBaseURL != "" {
		cfg.GitHub.APIBaseURL = apiBaseURL
	}
	if appToken := os.Getenv("TINYGEN_GITHUB_APP_TOKEN"); appToken != "" {
		cfg.GitHub.AppToken = appToken
	}

	// API Keys
	if apiKey := os.Getenv("TINYGEN_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.APIKeys.Anthropic = apiKey
	}
	if apiKey := os.Getenv("TINYGEN_OPENAI_API_KEY"); apiKey != "" {
		cfg.APIKeys.OpenAI = apiKey
	}
	if token := os.Getenv("TINYGEN_GITHUB_TOKEN"); token != "" {
		cfg.APIKeys.GitHubToken = token
	}

	// Sandbox
	if image := os.Getenv("TINYGEN_SANDBOX_IMAGE"); image != "" {
		cfg.Sandbox.Image = image
	}
	if workspaceDir := os.Getenv("TINYGEN_SANDBOX_WORKSPACE_DIR"); workspaceDir != "" {
		cfg.Sandbox.WorkspaceDir = workspaceDir
	}

	// Directory
	if tinygenDir := os.Getenv("TINYGEN_DIR"); tinygenDir != "" {
		cfg.Directory.TinygenDir = tinygenDir
	}
	if workspaceBaseDir := os.Getenv("TINYGEN_WORKSPACE_BASE_DIR"); workspaceBaseDir != "" {
		cfg.Directory.WorkspaceBaseDir = workspaceBaseDir
	}
	if sqliteDB := os.Getenv("TINYGEN_SQLITE_DATABASE"); sqliteDB != "" {
		cfg.Directory.SQLiteDatabase = sqliteDB
	}

	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		ENV:      getEnvOrDefault("TINYGEN_ENV", "production"),
		LogLevel: getEnvOrDefault("TINYGEN_LOG_LEVEL", "info"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	dsn := os.Getenv("TINYGEN_DATABASE_URL")
	if dsn == "" {
		// TINYGEN_DATABASE_URL이 없으면 SQLite 기본값 사용 (로컬 개발용)
		// GetDatabasePath() 호출 대신 직접 계산 (순환 참조 방지)
		sqliteDB := os.Getenv("TINYGEN_SQLITE_DATABASE")
		if sqliteDB == "" {
			tinygenDir := getTinygenDir()
			sqliteDB = filepath.Join(tinygenDir, "tinygen.db")
		}
		dsn = sqliteDB
	}

	cfg := DatabaseConfig{
		DSN:             dsn,
		LogLevel:        parseLogLevel(os.Getenv("TINYGEN_DB_LOG_LEVEL")),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("TINYGEN_DB_MAX_IDLE"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("TINYGEN_DB_MAX_OPEN"), 20),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("TINYGEN_DB_CONN_LIFETIME"), 30*time.Minute),
		SkipDefaultTxn:  parseBoolWithDefault(os.Getenv("TINYGEN_DB_SKIP_DEFAULT_TXN"), true),
		PrepareStmt:     parseBoolWithDefault(os.Getenv("TINYGEN_DB_PREPARE_STMT"), false),
	}

	if v, ok := lookupEnvBool("TINYGEN_DB_DISABLE_AUTO_PING"); ok {
		cfg.DisableAutomaticPing = v
	}

	return cfg
}

func loadBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:    getEnvOrDefault("TINYGEN_BACKEND_URL", "http://localhost:8000"),
		ListenAddr: getEnvOrDefault("TINYGEN_LISTEN_ADDR", ":8000"),
	}
}

func loadGitHubConfig() GitHubConfig {
	return GitHubConfig{
		APIBaseURL: getEnvOrDefault("TINYGEN_GITHUB_API_URL", "https://api.github.com"),
		AppToken:   os.Getenv("TINYGEN_GITHUB_APP_TOKEN"),
	}
}

func loadAPIKeysConfig() APIKeysConfig {
	return APIKeysConfig{
		Anthropic:   os.Getenv("TINYGEN_ANTHROPIC_API_KEY"),
		OpenAI:      os.Getenv("TINYGEN_OPENAI_API_KEY"),
		GitHubToken: os.Getenv("TINYGEN_GITHUB_TOKEN"),
	}
}

func loadSandboxConfig() SandboxConfig {
	cfg := SandboxConfig{
		Image:        os.Getenv("TINYGEN_SANDBOX_IMAGE"),
		WorkspaceDir: os.Getenv("TINYGEN_SANDBOX_WORKSPACE_DIR"),
	}

	// TINYGEN_SANDBOX_IMAGE가 설정되지 않은 경우 TINYGEN_ENV에 따라 기본값 설정
	if cfg.Image == "" {
		env := getEnvOrDefault("TINYGEN_ENV", "production")
		if env == "development" {
			cfg.Image = "tinygen-sandbox:latest"
		} else {
			cfg.Image = "ghcr.io/tinygen-oss/tinygen-sandbox:latest"
		}
	}

	return cfg
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		TinygenDir:       getTinygenDir(),
		WorkspaceBaseDir: os.Getenv("TINYGEN_WORKSPACE_BASE_DIR"),
		SQLiteDatabase:   os.Getenv("TINYGEN_SQLITE_DATABASE"),
	}
}

// getTinygenDir은 TINYGEN_DIR 환경 변수를 반환하거나 기본값을 계산합니다.
func getTinygenDir() string {
	tinygenDir := os.Getenv("TINYGEN_DIR")
	if tinygenDir != "" {
		return tinygenDir
	}

	// TINYGEN_DIR이 없으면 $HOME/.tinygen 사용
	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".tinygen")
	}

	// Fallback: ./data
	return "./data"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(value string) gormlogger.LogLevel {
	switch value {
	case "silent", "SILENT":
		return gormlogger.Silent
	case "error", "ERROR":
		return gormlogger.Error
	case "warn", "WARN":
		return gormlogger.Warn
	case "info", "INFO":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func parseIntWithDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseBoolWithDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func lookupEnvBool(key string) (bool, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// Validate는 게이트웨이 실행에 필요한 설정 값들을 검증합니다.
func (c *Config) Validate() error {
	if c.Backend.ListenAddr == "" {
		return fmt.Errorf("TINYGEN_LISTEN_ADDR is required")
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("TINYGEN_SANDBOX_IMAGE is required")
	}
	return nil
}

// GetAPIKeyEnvVars는 sandbox에 전달할 API 키 환경 변수 목록을 반환합니다.
func (c *Config) GetAPIKeyEnvVars() []string {
	var env []string
	if c.APIKeys.Anthropic != "" {
		env = append(env, fmt.Sprintf("ANTHROPIC_API_KEY=%s", c.APIKeys.Anthropic))
	}
	if c.APIKeys.OpenAI != "" {
		env = append(env, fmt.Sprintf("OPENAI_API_KEY=%s", c.APIKeys.OpenAI))
	}
	if c.APIKeys.GitHubToken != "" {
		env = append(env, fmt.Sprintf("GITHUB_TOKEN=%s", c.APIKeys.GitHubToken))
	}
	return env
}
