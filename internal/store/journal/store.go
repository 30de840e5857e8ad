// Package journal 把订单、成交与日志事件落到 sqlite。
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 100

type Store struct {
	db *gorm.DB
}

// Open 以纯 Go 的 modernc 驱动打开 path；":memory:" 用于测试。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return OpenDB(db)
}

func OpenDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(&OrderRecord{}, &TradeRecord{}, &LogRecord{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// 单连接，保证 :memory: 库在各语句间共享
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

// Write 在一个事务里写入一批记录。
func (s *Store) Write(ctx context.Context, orders []OrderRecord, trades []TradeRecord, logs []LogRecord) error {
	if len(orders)+len(trades)+len(logs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range orders {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "vt_orderid"}},
				DoUpdates: clause.AssignmentColumns([]string{"local_id", "traded", "status", "raw", "updated_at", "price", "volume"}),
			}).Create(&orders[i]).Error; err != nil {
				return err
			}
		}
		if len(trades) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&trades).Error; err != nil {
				return err
			}
		}
		if len(logs) > 0 {
			if err := tx.Create(&logs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Orders 按更新时间倒序。
func (s *Store) Orders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []OrderRecord
	err := s.db.WithContext(ctx).Order("updated_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) Order(ctx context.Context, vtOrderID string) (OrderRecord, bool, error) {
	var rec OrderRecord
	res := s.db.WithContext(ctx).Where("vt_orderid = ?", vtOrderID).Limit(1).Find(&rec)
	if res.Error != nil {
		return OrderRecord{}, false, res.Error
	}
	return rec, res.RowsAffected > 0, nil
}

func (s *Store) Trades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []TradeRecord
	err := s.db.WithContext(ctx).Order("traded_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) Logs(ctx context.Context, limit int) ([]LogRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []LogRecord
	err := s.db.WithContext(ctx).Order("at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
