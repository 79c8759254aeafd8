package rulestore

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// ConnectAndMigrate opens the rule database and brings the schema up to date.
// With DATABASE_DSN set it connects to postgres (retrying, the server may still
// be starting); otherwise it opens the sqlite file at sqlitePath. Schema comes
// from golang-migrate SQL files when MIGRATIONS=1, else gorm AutoMigrate.
func ConnectAndMigrate(sqlitePath string) (*gorm.DB, error) {
	dsn := GetNormalizedDSN()
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error
	if dsn != "" {
		for i := 0; i < 10; i++ {
			db, err = gorm.Open(postgres.Open(dsn), cfg)
			if err == nil {
				break
			}
			fmt.Println("Retrying DB connection...", err)
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect database after retries: %w", err)
		}
	} else {
		if sqlitePath == "" {
			sqlitePath = "rules.db"
		}
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", sqlitePath, err)
		}
	}

	// Basic connectivity test
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}

	if dsn != "" {
		masked := dsn
		if strings.Contains(masked, "password=") {
			re := regexp.MustCompile(`(password=)([^\s]+)`)
			masked = re.ReplaceAllString(masked, `${1}***`)
		}
		fmt.Println("[DB] Using DSN:", masked)
	}

	// MIGRATIONS=1 runs sql migrations via golang-migrate (postgres only);
	// otherwise AutoMigrate keeps dev setups simple.
	if v := strings.ToLower(os.Getenv("MIGRATIONS")); dsn != "" && (v == "1" || v == "true" || v == "yes") {
		if err := runSQLMigrations(ToURLDSN(dsn)); err != nil {
			return nil, fmt.Errorf("sql migrations failed: %w", err)
		}
	} else {
		modelsToMigrate := []interface{}{
			&models.NCMRule{}, &models.PISCofinsRule{}, &models.CFOPRule{}, &models.StateOverride{}, &models.LegalRef{},
		}
		for _, m := range modelsToMigrate {
			if migErr := db.AutoMigrate(m); migErr != nil {
				return nil, fmt.Errorf("automigrate %T: %w", m, migErr)
			}
		}
	}

	// sanity check: ensure rule tables exist
	for _, table := range []string{"ncm_rules", "pis_cofins_rules", "cfop_rules"} {
		if !db.Migrator().HasTable(table) {
			return nil, errors.New("missing table after migration: " + table)
		}
	}
	// Seeding only when explicitly requested via DB_SEED=1|true
	if v := strings.ToLower(os.Getenv("DB_SEED")); v == "1" || v == "true" || v == "yes" {
		Seed(db)
	}
	return db, nil
}

// runSQLMigrations executes migrations in ./migrations using golang-migrate file source.
func runSQLMigrations(dsn string) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return err
	}
	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
