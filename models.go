package main

import (
	"github.com/cpacia/matwatch/bracket"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"time"
)

type Credentials struct {
	Username string `json:"username" gorm:"index"`
	Password string `json:"password"`
}

type PWChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type DBCredentials struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex"`
	PasswordHash string
}

// MatchEntry is one persisted row of the canonical table. Position keeps
// the table order across restarts.
type MatchEntry struct {
	ID       uint    `json:"-" gorm:"primaryKey"`
	Position int     `json:"-"`
	Numero   *int    `json:"numero"`
	Nom      string  `json:"nom" gorm:"uniqueIndex"`
	Club     string  `json:"club"`
	Mat      *string `json:"mat"`
	Heure    *string `json:"heure"`
}

// Source is a bracket page URL submitted for tracking.
type Source struct {
	gorm.Model
	URL string `json:"url" gorm:"uniqueIndex"`
}

// SourceSnapshot holds the matches extracted from a source on its last
// successful fetch, placeholders included.
type SourceSnapshot struct {
	gorm.Model
	SourceID  uint           `json:"sourceId" gorm:"uniqueIndex"`
	URL       string         `json:"url"`
	FetchedAt time.Time      `json:"fetchedAt"`
	Matches   datatypes.JSON `json:"matches" gorm:"type:json"`
}

type AnalyzeRequest struct {
	URL string `json:"url"`
}

type AnalyzeResponse struct {
	Matches []bracket.MatchRecord   `json:"matches"`
	Rows    []bracket.CompetitorRow `json:"rows"`
	Table   bracket.Table           `json:"table"`
}
