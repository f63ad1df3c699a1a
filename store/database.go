package store

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"integrator/config"
	"integrator/models"
)

// Database writes straight into the request and attempt tables, without the
// RPC indirection. Used for self-hosted setups and local development.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Connect abre conexão com o banco (sqlite3 por padrão) e, se configurado, faz automigrate.
func Connect(conf config.Configuration) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	if conf.Database == "postgres" || conf.Database == "postgresql" {
		log.Println("store: using postgresql connection")
		path := "host=" + conf.DbHost + " port=" + conf.DbPort
		path += " user=" + conf.DbUser + " dbname=" + conf.DbName
		path += " password=" + conf.DbPass
		db, err = gorm.Open("postgres", path)
	} else {
		log.Println("store: using sqlite3 connection")
		if dir := filepath.Dir(conf.DbPath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, errors.Wrap(mkErr, "create sqlite dir")
			}
		}
		db, err = gorm.Open("sqlite3", conf.DbPath)
	}

	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}

	if conf.DbAutoMigrate {
		if err := Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.IntegratorRequest{},
		&models.DeliveryAttempt{},
	).Error
}

func (d *Database) CreateRequest(ctx context.Context, r *models.IntegratorRequest) (*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}

	rec := *r
	rec.ID = uuid.NewString()
	now := time.Now().UTC()
	rec.CreatedAt = &now

	if err := d.db.Create(&rec).Error; err != nil {
		return nil, &InsertError{Detail: describeDBError(err), cause: err}
	}

	id := rec.ID
	return &id, nil
}

func (d *Database) LogDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := *attempt
	rec.ID = uuid.NewString()
	if rec.ResponseHeaders != nil {
		b, err := json.Marshal(rec.ResponseHeaders)
		if err != nil {
			return errors.Wrap(err, "encode response headers")
		}
		rec.ResponseHeadersJ = string(b)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return errors.Wrap(d.db.Create(&rec).Error, "insert delivery attempt")
}

// describeDBError keeps postgres diagnostics short and free of connection details.
func describeDBError(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) + " " + pqErr.Code.Name() + ": " + pqErr.Message
	}
	return err.Error()
}
