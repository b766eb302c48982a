// internal/service/fulfillment/infrastructure/mysql_audit.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dropflow/internal/service/fulfillment/domain"
)

// WorkflowEventRecord 是只追加的审计表行：每条已应用事件一行。
// Redis 快照是运行时权威，这张表服务于排障与离线分析。
type WorkflowEventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	OrderID    string    `gorm:"size:64;index:idx_order_id;not null"`
	State      string    `gorm:"size:40;not null"`
	Event      string    `gorm:"size:40;not null"`
	EventID    string    `gorm:"size:64"`
	LastError  string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"not null"`
	CreatedAt  time.Time
}

func (WorkflowEventRecord) TableName() string {
	return "workflow_events"
}

// MySQLAuditTrail 基于 GORM 的审计落库实现。
type MySQLAuditTrail struct {
	db *gorm.DB
}

func NewMySQLAuditTrail(dsn string) (*MySQLAuditTrail, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mysql")
	}
	if err := db.AutoMigrate(&WorkflowEventRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate workflow_events")
	}
	return &MySQLAuditTrail{db: db}, nil
}

func (a *MySQLAuditTrail) Append(ctx context.Context, orderID string, entry domain.HistoryEntry, lastError string) error {
	rec := WorkflowEventRecord{
		OrderID:    orderID,
		State:      string(entry.State),
		Event:      string(entry.Event),
		EventID:    entry.EventID,
		LastError:  lastError,
		OccurredAt: entry.Timestamp,
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to append audit record for order %s", orderID)
	}
	return nil
}

// Recent 返回某订单最近的审计记录，供运维接口查询。
func (a *MySQLAuditTrail) Recent(ctx context.Context, orderID string, limit int) ([]WorkflowEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []WorkflowEventRecord
	err := a.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query audit records for order %s", orderID)
	}
	return recs, nil
}
