package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"inventorybot/internal/inventory"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Key is the logical uniqueness key of an inventory row
type Key struct {
	SiteColumn string
	Site       string
	IDColumn   string
	ID         string
}

func (k Key) String() string {
	id := k.ID
	if id == "" {
		id = "-"
	}
	return k.Site + "/" + id
}

// Store is the relational engine as seen by the ingestion and lookup flows.
// It only reads and writes rows; table structure is never created or altered.
type Store interface {
	// Update writes fields into the rows matching key and returns how many matched
	Update(ctx context.Context, table inventory.TableRef, key Key, fields map[string]any) (int64, error)
	Insert(ctx context.Context, table inventory.TableRef, fields map[string]any) error
	ListTables(ctx context.Context) ([]string, error)
	Search(ctx context.Context, table inventory.TableRef, column, text string, limit int) ([]map[string]any, error)
	Ping(ctx context.Context) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Update(ctx context.Context, table inventory.TableRef, key Key, fields map[string]any) (int64, error) {
	if table.IsZero() {
		return 0, inventory.ErrTableNotAllowed
	}
	result := s.db.WithContext(ctx).
		Table(table.Name()).
		Where("? = ? AND ? = ?",
			gormColumn(key.SiteColumn), key.Site,
			gormColumn(key.IDColumn), key.ID).
		Updates(fields)
	if result.Error != nil {
		return 0, fmt.Errorf("update %s: %w", table, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) Insert(ctx context.Context, table inventory.TableRef, fields map[string]any) error {
	if table.IsZero() {
		return inventory.ErrTableNotAllowed
	}
	if err := s.db.WithContext(ctx).Table(table.Name()).Create(fields).Error; err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *GormStore) ListTables(ctx context.Context) ([]string, error) {
	tables, err := s.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// Search returns up to limit rows whose column contains text, case-insensitively
func (s *GormStore) Search(ctx context.Context, table inventory.TableRef, column, text string, limit int) ([]map[string]any, error) {
	if table.IsZero() {
		return nil, inventory.ErrTableNotAllowed
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(text))) + "%"

	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table(table.Name()).
		Where("LOWER(?) LIKE ? ESCAPE '!'", gormColumn(column), pattern).
		Order(clause.OrderByColumn{Column: gormColumn(column)}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	return rows, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// IsConnectionError reports whether err means the store itself is unreachable,
// as opposed to a problem with the statement or the row.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func gormColumn(name string) clause.Column {
	return clause.Column{Name: name}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
