package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/cpacia/matwatch/bracket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (s *Server) POSTLoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Check if rate limit has been exceeded
	key := loginRateLimitKey(r, creds.Username)
	ctx, err := s.loginRateLimiter.Peek(r.Context(), key)
	if err != nil {
		http.Error(w, "Rate limiter error", http.StatusInternalServerError)
		return
	}
	if ctx.Reached {
		http.Error(w, "Too many failed login attempts", http.StatusTooManyRequests)
		return
	}

	dbCreds := &DBCredentials{}
	result := s.db.First(dbCreds, "username = ?", creds.Username)
	if result.Error != nil {
		s.loginRateLimiter.Increment(r.Context(), key, 1)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	err = bcrypt.CompareHashAndPassword([]byte(dbCreds.PasswordHash), []byte(creds.Password))
	if err != nil {
		s.loginRateLimiter.Increment(r.Context(), key, 1)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	expiration := time.Now().Add(60 * time.Minute)
	claims := &Claims{
		Username: creds.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(s.jwtKey)
	if err != nil {
		http.Error(w, "Could not generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    tokenStr,
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":     tokenStr,
		"expiresAt": expiration,
	})
}

func loginRateLimitKey(r *http.Request, username string) string {
	return fmt.Sprintf("%s:%s", clientIP(r), username)
}

func (s *Server) POSTLogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteNoneMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) POSTChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(userContextKey).(*Claims)
	if !ok || claims == nil {
		http.Error(w, "User info not found in context", http.StatusInternalServerError)
		return
	}

	var pwChangeReq PWChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&pwChangeReq); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if pwChangeReq.NewPassword == "" {
		http.Error(w, "New password must not be empty", http.StatusBadRequest)
		return
	}

	dbCreds := &DBCredentials{}
	result := s.db.First(dbCreds, "username = ?", claims.Username)
	if result.Error != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	err := bcrypt.CompareHashAndPassword([]byte(dbCreds.PasswordHash), []byte(pwChangeReq.CurrentPassword))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pwChangeReq.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Could not check password", http.StatusInternalServerError)
		return
	}
	dbCreds.PasswordHash = string(hash)
	if err := s.db.Save(dbCreds).Error; err != nil {
		http.Error(w, "Could not save password", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) GETMatches(w http.ResponseWriter, r *http.Request) {
	table := s.tracker.Table()
	if table == nil {
		table = bracket.Table{}
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) POSTAnalyzeMatches(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !validSourceURL(req.URL) {
		http.Error(w, "A http(s) URL must be provided", http.StatusBadRequest)
		return
	}

	resp, err := s.tracker.Analyze(r.Context(), req.URL)
	if errors.Is(err, ErrNoDocument) {
		http.Error(w, "Could not fetch page content", http.StatusBadGateway)
		return
	} else if err != nil {
		http.Error(w, "Error analyzing page", http.StatusInternalServerError)
		return
	}
	if resp.Matches == nil {
		resp.Matches = []bracket.MatchRecord{}
	}
	if resp.Rows == nil {
		resp.Rows = []bracket.CompetitorRow{}
	}
	if resp.Table == nil {
		resp.Table = bracket.Table{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) POSTRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.RefreshAll(r.Context()); err != nil {
		http.Error(w, "Error refreshing sources", http.StatusInternalServerError)
		return
	}
	table := s.tracker.Table()
	if table == nil {
		table = bracket.Table{}
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) GETSources(w http.ResponseWriter, r *http.Request) {
	sources, err := listSources(s.db)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) GETSourceMatches(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid source id", http.StatusBadRequest)
		return
	}

	snap, records, err := loadSnapshot(s.db, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Source not fetched yet", http.StatusNotFound)
		} else {
			http.Error(w, "Database error", http.StatusInternalServerError)
		}
		return
	}
	if records == nil {
		records = []bracket.MatchRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sourceId":  snap.SourceID,
		"url":       snap.URL,
		"fetchedAt": snap.FetchedAt,
		"matches":   records,
	})
}
