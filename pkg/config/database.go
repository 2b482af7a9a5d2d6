package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"launchpad/internal/models"
)

var DB *gorm.DB

// DatabaseDSN builds the postgres DSN from DB_* environment variables
func DatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
}

// OpenDB connects to postgres. Driver errors are translated so unique index
// violations surface as gorm.ErrDuplicatedKey.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// AutoMigrate creates or updates the tables of every model
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Launch{},
		&models.Mint{},
		&models.FeePayment{},
		&models.SettlementFailure{},
	)
}

// InitDB initializes the database connection. With DB_AUTO_MIGRATE=true the
// schema is brought up to date from the models instead of migrations/.
func InitDB() {
	db, err := OpenDB(DatabaseDSN())
	if err != nil {
		log.Fatal(err)
	}
	DB = db

	if os.Getenv("DB_AUTO_MIGRATE") == "true" {
		if err := AutoMigrate(DB); err != nil {
			log.Fatal("Failed to migrate database: ", err)
		}
	}
	log.WithField("host", os.Getenv("DB_HOST")).Info("Database connected")
}
