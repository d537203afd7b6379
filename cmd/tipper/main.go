package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/tipper/internal/handler"
	appI18n "github.com/pavelanni/tipper/internal/i18n"
	"github.com/pavelanni/tipper/internal/model"
	"github.com/pavelanni/tipper/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tipper",
		Short: "Students predict their exam grades and score points for close guesses",
	}

	serve := serveCmd()
	root.AddCommand(serve, initCmd(), sweepCmd(), exportCmd(), addUserCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tipper --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every command understands.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "tipper.db", "SQLite database path")
	f.String("timezone", "Local", "IANA time zone that decides which calendar day it is")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default UI language (en, de)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /tipper)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set TIPPER_ADMIN_PASSWORD)")
	f.Duration("sweep-interval", 15*time.Minute, "How often to close expired exams (0 disables)")
	f.Bool("demo", false, "Load demo users and an exam into an empty database")
	return cmd
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and the admin user",
		RunE:  runInit,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("admin-password", "", "Initial admin password (or set TIPPER_ADMIN_PASSWORD)")
	f.Bool("demo", false, "Also load demo users and an exam")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close exams whose evaluation window has passed",
		RunE:  runSweep,
	}
	commonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the leaderboard and closed exam results as JSON",
		RunE:  runExport,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("subject", "", "Only include exams of this subject")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func addUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user account",
		RunE:  runAddUser,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("username", "", "Login name (required)")
	f.String("email", "", "Email address (required)")
	f.String("display-name", "", "Name shown on the leaderboard (defaults to username)")
	f.String("password", "", "Password (or set TIPPER_PASSWORD)")
	f.String("role", string(model.UserRoleStudent), "Role (student, teacher, admin)")
	f.String("teacher", "", "Username of a teacher whose class a new student joins")

	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance. A .env file in the working directory, if present, feeds the
// environment first.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TIPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tipper")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tipper")
	v.AddConfigPath("/etc/tipper")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup reads configuration, configures logging and opens the database.
func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, model.AppConfig, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, nil, model.AppConfig{}, fmt.Errorf("load timezone: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, model.AppConfig{}, fmt.Errorf("open database: %w", err)
	}
	return v, db, model.AppConfig{Location: loc}, nil
}

// prepare seeds the admin account and, if asked, the demo data.
func prepare(v *viper.Viper, db *store.Store, cfg model.AppConfig) error {
	if v.GetBool("demo") {
		if _, err := db.Initialize(store.DemoSeed(cfg.Now()), cfg.Now()); err != nil {
			return err
		}
	}
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := prepare(v, db, cfg); err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.BasePath = basePath
	cfg.SecureCookies = v.GetBool("secure-cookies")

	h, err := handler.New(db, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware)

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := v.GetDuration("sweep-interval"); interval > 0 {
		go runSweeper(ctx, db, cfg, interval)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"languages", appI18n.Languages(),
			"timezone", cfg.Location.String(),
			"base_path", basePath,
			"sweep_interval", v.GetDuration("sweep-interval"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSweeper closes expired exams and drops stale logins until ctx ends.
func runSweeper(ctx context.Context, db *store.Store, cfg model.AppConfig, interval time.Duration) {
	tick := func() {
		now := cfg.Now()
		if _, err := db.SweepExpired(now); err != nil {
			slog.Error("sweep failed", "error", err)
		}
		if n, err := db.CleanupExpiredSessions(now); err != nil {
			slog.Error("session cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("removed expired sessions", "count", n)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	v, db, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	return prepare(v, db, cfg)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	_, db, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	closed, err := db.SweepExpired(cfg.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "closed %d exam(s)\n", len(closed))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportLeaderboard(cfg.Now(), v.GetString("subject"))
	if err != nil {
		return fmt.Errorf("export leaderboard: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func runAddUser(cmd *cobra.Command, _ []string) error {
	v, db, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	role := model.UserRole(v.GetString("role"))
	switch role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	var teacher *model.User
	if name := v.GetString("teacher"); name != "" {
		if role != model.UserRoleStudent {
			return errors.New("--teacher only applies to students")
		}
		teacher, err = db.GetUserByUsername(name)
		if err != nil {
			return fmt.Errorf("look up teacher: %w", err)
		}
		if teacher == nil || teacher.Role != model.UserRoleTeacher {
			return fmt.Errorf("no teacher named %q", name)
		}
	}
	password := v.GetString("password")
	if password == "" {
		return errors.New("password is required: set --password flag or TIPPER_PASSWORD env var")
	}
	username := v.GetString("username")
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	id, err := db.CreateUser(model.User{
		Username:     username,
		Email:        v.GetString("email"),
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q with id %d\n", role, username, id)
	if teacher != nil {
		if err := db.AddMember(id, teacher.ID, cfg.Now()); err != nil {
			return fmt.Errorf("join class: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %q to the class of %q\n", username, teacher.Username)
	}
	return nil
}

// seedAdmin creates the admin account when no admin exists yet.
func seedAdmin(db *store.Store, password string) error {
	admins, err := db.ListUsersByRole(model.UserRoleAdmin)
	if err != nil {
		return err
	}
	if len(admins) > 0 {
		return nil
	}
	existing, err := db.GetUserByUsername("admin")
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or TIPPER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		Email:        "admin@localhost",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
