package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open은 DSN 형식에 따라 PostgreSQL 또는 SQLite 데이터베이스를 엽니다.
// postgres:// 또는 postgresql:// 로 시작하면 PostgreSQL, 그 외에는 SQLite 파일 경로로 해석합니다.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: empty DSN")
	}

	gormCfg := &gorm.Config{
		SkipDefaultTransaction: cfg.SkipDefaultTxn,
		PrepareStmt:            cfg.PrepareStmt,
		DisableAutomaticPing:   cfg.DisableAutomaticPing,
		Logger:                 gormlogger.Default.LogMode(cfg.LogLevel),
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		dialector = postgres.Open(cfg.DSN)
	} else {
		// SQLite 파일 경로: 상위 디렉토리가 없으면 생성
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: 데이터베이스 디렉토리 생성 실패: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: 데이터베이스 열기 실패: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: DB 핸들 조회 실패: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate는 전체 스키마를 마이그레이션합니다.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("storage: nil db handle")
	}
	return db.AutoMigrate(
		&Chat{},
		&Message{},
	)
}

// Close는 데이터베이스 연결을 닫습니다.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
