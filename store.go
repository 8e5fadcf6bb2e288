package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/cpacia/matwatch/bracket"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"path/filepath"
	"strconv"
	"time"
)

const defaultAdminPassword = "letmein"

// Open the database in dataDir, creating it and the default admin account
// if needed. The admin password is meant to be changed after first login.
func initDatabase(dataDir string) (*gorm.DB, error) {
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, dbName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := applyMigrations(db); err != nil {
		return nil, err
	}

	var creds DBCredentials
	result := db.First(&creds)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, result.Error
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		if err := db.Create(&DBCredentials{Username: "admin", PasswordHash: string(hash)}).Error; err != nil {
			return nil, err
		}
	}

	return db, nil
}

func applyMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&DBCredentials{},
		&MatchEntry{},
		&Source{},
		&SourceSnapshot{},
	)
}

// loadTable reads the persisted canonical table in stored order.
func loadTable(db *gorm.DB) (bracket.Table, error) {
	var entries []MatchEntry
	if err := db.Order("position ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load match table: %w", err)
	}
	table := make(bracket.Table, 0, len(entries))
	for _, e := range entries {
		table = append(table, entryToRow(e))
	}
	return table, nil
}

// saveTable replaces the persisted canonical table with t.
func saveTable(db *gorm.DB, t bracket.Table) error {
	entries := make([]MatchEntry, 0, len(t))
	for i, r := range t {
		entries = append(entries, rowToEntry(i, r))
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&MatchEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(&entries).Error
	})
}

func rowToEntry(pos int, r bracket.CompetitorRow) MatchEntry {
	e := MatchEntry{
		Position: pos,
		Nom:      r.Name,
		Club:     r.Club,
		Mat:      optional(r.Location),
		Heure:    optional(r.Time),
	}
	if n, ok := r.NumberValue(); ok {
		e.Numero = &n
	}
	return e
}

func entryToRow(e MatchEntry) bracket.CompetitorRow {
	r := bracket.CompetitorRow{
		Name: e.Nom,
		Club: e.Club,
	}
	if e.Numero != nil {
		r.Number = strconv.Itoa(*e.Numero)
	}
	if e.Mat != nil {
		r.Location = *e.Mat
	}
	if e.Heure != nil {
		r.Time = *e.Heure
	}
	return r
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func listSources(db *gorm.DB) ([]Source, error) {
	var sources []Source
	if err := db.Order("id ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// addSource registers url. Submitting a known URL returns the existing
// record.
func addSource(db *gorm.DB, url string) (*Source, error) {
	src := &Source{URL: url}
	err := db.Create(src).Error
	if err == nil {
		return src, nil
	}
	if !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("add source: %w", err)
	}

	existing := &Source{}
	if err := db.First(existing, "url = ?", url).Error; err != nil {
		return nil, fmt.Errorf("add source: %w", err)
	}
	return existing, nil
}

func saveSnapshot(db *gorm.DB, src *Source, records []bracket.MatchRecord, fetchedAt time.Time) error {
	if records == nil {
		records = []bracket.MatchRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	var snap SourceSnapshot
	return db.Where(SourceSnapshot{SourceID: src.ID}).
		Assign(SourceSnapshot{URL: src.URL, FetchedAt: fetchedAt, Matches: datatypes.JSON(b)}).
		FirstOrCreate(&snap).Error
}

func loadSnapshot(db *gorm.DB, sourceID uint) (*SourceSnapshot, []bracket.MatchRecord, error) {
	var snap SourceSnapshot
	if err := db.First(&snap, "source_id = ?", sourceID).Error; err != nil {
		return nil, nil, err
	}
	var records []bracket.MatchRecord
	if err := json.Unmarshal(snap.Matches, &records); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot %d: %w", sourceID, err)
	}
	return &snap, records, nil
}
