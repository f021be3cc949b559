package database

import (
	"context"
	"strings"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PropertyRecord is one persisted element property set
type PropertyRecord struct {
	Key       string `gorm:"column:element_key;primaryKey;size:255"`
	Value     []byte `gorm:"column:value;not null"`
	UpdatedAt time.Time
}

// TableName overrides the gorm default
func (PropertyRecord) TableName() string {
	return "element_properties"
}

// GormDatabase is a SQL key-value backend for element properties
type GormDatabase struct {
	db *gorm.DB
}

// Connect opens the configured SQL backend and migrates the schema
func Connect(cfg config.StoreConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector
	switch cfg.Backend {
	case config.BackendPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.BackendSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported SQL backend %q", cfg.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}
	if cfg.Backend == config.BackendSQLite {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&PropertyRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return &GormDatabase{db: db}, nil
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() *gorm.DB {
	return d.db
}

// Set upserts the value stored under key
func (d *GormDatabase) Set(ctx context.Context, key string, value []byte) error {
	rec := PropertyRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "element_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.Wrapf(err, "failed to upsert %s", key)
	}
	return nil
}

// Get returns the value stored under key
func (d *GormDatabase) Get(ctx context.Context, key string) ([]byte, error) {
	var rec PropertyRecord
	err := d.db.WithContext(ctx).Where("element_key = ?", key).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrKeyNotFound, "sql key %s", key)
		}
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return rec.Value, nil
}

// DeleteByPrefix removes every row whose key starts with prefix
func (d *GormDatabase) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("element_key LIKE ? ESCAPE '\\'", LikePrefix(prefix)).
		Delete(&PropertyRecord{})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "failed to delete prefix %s", prefix)
	}
	return res.RowsAffected, nil
}

// LikePrefix escapes LIKE wildcards in prefix and appends %
func LikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
