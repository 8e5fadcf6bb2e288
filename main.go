package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/cpacia/matwatch/bracket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jessevdk/go-flags"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	dataDirName    = ".matwatch"
	dbName         = "matwatch.db"
	userContextKey = contextKey("user")
)

type contextKey string

type Options struct {
	Listen          string        `short:"l" long:"listen" description:"Address to serve the API on" default:":8080"`
	DataDir         string        `short:"d" long:"datadir" description:"Directory holding the database (default ~/.matwatch)"`
	FetchTimeout    time.Duration `long:"fetchtimeout" description:"Timeout for a single page fetch" default:"10s"`
	RefreshInterval time.Duration `long:"refreshinterval" description:"Minimum time between two refreshes of all sources" default:"5m"`
	AnalyzeRate     string        `long:"analyzerate" description:"Per client limit on analyze requests, e.g. 30-M" default:"30-M"`
	LoginRate       string        `long:"loginrate" description:"Failed login attempts allowed per client and user" default:"10-H"`
	DropUntimed     bool          `long:"dropuntimed" description:"Drop table rows that have no scheduled time"`
	CORSOrigins     []string      `long:"corsorigin" description:"Allowed CORS origin, may be repeated (default *)"`
	JWTKey          string        `long:"jwtkey" env:"MATWATCH_JWT_KEY" description:"Hex encoded key used to sign auth tokens"`
	DevMode         bool          `long:"dev" description:"Development mode; auth cookies are not marked secure"`
}

type Server struct {
	db               *gorm.DB
	r                chi.Router
	tracker          *Tracker
	loginRateLimiter *limiter.Limiter
	jwtKey           []byte
	devMode          bool
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(opts, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(opts Options, logger *slog.Logger) error {
	if opts.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", opts.RefreshInterval)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir(dataDirName)
	}

	db, err := initDatabase(dataDir)
	if err != nil {
		return fmt.Errorf("database initialization: %w", err)
	}

	jwtKey, err := loadJWTKey(opts.JWTKey, logger)
	if err != nil {
		return err
	}

	rc := bracket.Reconciler{DropUntimed: opts.DropUntimed}
	tracker, err := NewTracker(db, newCollyFetcher(opts.FetchTimeout), rc, opts.RefreshInterval, logger)
	if err != nil {
		return err
	}

	s, err := NewServer(db, tracker, jwtKey, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tracker.Run(ctx)

	srv := &http.Server{Addr: opts.Listen, Handler: s.r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", "addr", opts.Listen, "datadir", dataDir, "table", len(tracker.Table()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// A missing key gets a random one, which logs everybody out on restart.
func loadJWTKey(keyHex string, logger *slog.Logger) ([]byte, error) {
	if keyHex == "" {
		logger.Warn("no jwt key configured, generating an ephemeral one")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("error parsing jwt key: %w", err)
	}
	return key, nil
}

func NewServer(db *gorm.DB, tracker *Tracker, jwtKey []byte, opts Options) (*Server, error) {
	loginRate, err := limiter.NewRateFromFormatted(opts.LoginRate)
	if err != nil {
		return nil, fmt.Errorf("login rate: %w", err)
	}
	analyzeRate, err := limiter.NewRateFromFormatted(opts.AnalyzeRate)
	if err != nil {
		return nil, fmt.Errorf("analyze rate: %w", err)
	}
	analyzeLimiter := stdlib.NewMiddleware(limiter.New(memory.NewStore(), analyzeRate))

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		db:               db,
		r:                r,
		tracker:          tracker,
		loginRateLimiter: limiter.New(memory.NewStore(), loginRate),
		jwtKey:           jwtKey,
		devMode:          opts.DevMode,
	}

	r.Post("/login", s.POSTLoginHandler)
	r.Post("/logout", s.POSTLogoutHandler)
	r.Post("/changepw", s.authMiddleware(s.POSTChangePasswordHandler))

	r.Get("/matches", s.GETMatches)
	r.With(analyzeLimiter.Handler).Post("/matches/analyze", s.authMiddleware(s.POSTAnalyzeMatches))
	r.Post("/refresh", s.authMiddleware(s.POSTRefresh))

	r.Get("/sources", s.GETSources)
	r.Get("/sources/{id}/matches", s.GETSourceMatches)

	return s, nil
}

// Validate the JWT token. It can either be in a cookie or a header.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tokenStr string

		// First try Authorization header
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) >= 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		} else {
			// Fallback to auth_token cookie
			cookie, err := r.Cookie("auth_token")
			if err != nil {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}
			tokenStr = cookie.Value
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return s.jwtKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
