// Gatehouse - Session and Access Policy Engine
//
// gatehousectl is the operator entry point for Gatehouse. It runs the
// engine as a long-lived service (background session sweeper, optional
// MQTT session events) and provides administrative subcommands for
// managing principals and inspecting the audit trail.
//
// Usage:
//
//	gatehousectl serve
//	gatehousectl create-user -identifier alice -password secret -roles user
//	gatehousectl set-roles -id prn-1a2b3c4d -roles admin,user
//	gatehousectl reset-password -id prn-1a2b3c4d -password newsecret
//	gatehousectl deactivate -id prn-1a2b3c4d
//	gatehousectl list
//	gatehousectl audit -action login_failed -limit 20
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	_ "github.com/yourmine/gatehouse/migrations"

	"github.com/yourmine/gatehouse/internal/audit"
	"github.com/yourmine/gatehouse/internal/auth"
	"github.com/yourmine/gatehouse/internal/events"
	"github.com/yourmine/gatehouse/internal/infrastructure/config"
	"github.com/yourmine/gatehouse/internal/infrastructure/database"
	"github.com/yourmine/gatehouse/internal/infrastructure/logging"
	"github.com/yourmine/gatehouse/internal/infrastructure/mqtt"
	"github.com/yourmine/gatehouse/internal/policy"
	"github.com/yourmine/gatehouse/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// auditSource tags audit entries written by operator subcommands, so
// administrative actions are distinguishable from login-flow entries.
const auditSource = "gatehousectl"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to the requested subcommand, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("no command given")
	}

	command, rest := args[0], args[1:]

	switch command {
	case "serve":
		return runServe(ctx)
	case "create-user":
		return runCreateUser(ctx, rest)
	case "set-roles":
		return runSetRoles(ctx, rest)
	case "reset-password":
		return runResetPassword(ctx, rest)
	case "deactivate":
		return runDeactivate(ctx, rest)
	case "list":
		return runList(ctx)
	case "audit":
		return runAudit(ctx, rest)
	case "migrate-status":
		return runMigrateStatus(ctx)
	case "migrate-down":
		return runMigrateDown(ctx)
	case "version":
		fmt.Printf("gatehousectl %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: gatehousectl <command> [flags]

Commands:
  serve           run the engine (session sweeper, optional event publishing)
  create-user     create a local principal
  set-roles       replace a principal's role set
  reset-password  set a new password for a principal
  deactivate      soft-delete a principal (logins start failing)
  list            list all principals
  audit           query the audit trail
  migrate-status  show applied and pending schema migrations
  migrate-down    roll back the most recent migration (development only)
  version         print build information

Configuration is read from configs/config.yaml, or the path in the
GATEHOUSE_CONFIG environment variable.`)
}

// getConfigPath returns the configuration file path.
// Uses GATEHOUSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEHOUSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// env holds the shared dependencies every subcommand needs: loaded
// configuration, logger, open database, and the repositories on it.
type env struct {
	cfg        *config.Config
	log        *logging.Logger
	db         *database.DB
	principals *auth.SQLitePrincipalRepository
	audit      *audit.SQLiteRepository
}

// setup loads configuration, opens the database, and runs migrations.
// The returned cleanup closes the database and must always be called.
func setup(ctx context.Context) (*env, func(), error) {
	e, cleanup, err := open()
	if err != nil {
		return nil, nil, err
	}

	if migrateErr := e.db.Migrate(ctx); migrateErr != nil {
		cleanup()
		return nil, nil, fmt.Errorf("running migrations: %w", migrateErr)
	}

	return e, cleanup, nil
}

// open loads configuration and opens the database without touching
// the schema. The migration subcommands use it directly so they see
// and change the real migration state instead of an auto-migrated one.
func open() (*env, func(), error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	cleanup := func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	return &env{
		cfg:        cfg,
		log:        log,
		db:         db,
		principals: auth.NewPrincipalRepository(db.DB),
		audit:      audit.NewSQLiteRepository(db.DB),
	}, cleanup, nil
}

// runServe starts the engine and blocks until the context is
// cancelled. It runs the session sweeper, seeds the first admin
// account when the principals table is empty, and publishes session
// lifecycle events over MQTT when enabled.
func runServe(ctx context.Context) error {
	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	log := e.log
	log.Info("starting Gatehouse",
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	log.Info("database connected", "path", e.cfg.Database.Path)

	// First-boot admin seeding.
	if e.cfg.Auth.SeedAdmin {
		if _, seedErr := auth.SeedAdmin(ctx, e.principals, e.cfg.Auth.BcryptCost, log.Logger); seedErr != nil {
			return fmt.Errorf("seeding admin account: %w", seedErr)
		}
	}

	// Access policy engine. Built at startup so a bad rule set fails
	// the boot, not the first authorization check.
	engine, err := policy.FromConfig(e.cfg.Access)
	if err != nil {
		return fmt.Errorf("building access policy engine: %w", err)
	}
	log.Info("access policy engine ready",
		"rules", len(engine.Rules()),
		"unmatched", engine.Unmatched(),
	)
	if engine.Unmatched() == policy.Allow {
		log.Warn("unmatched paths are allowed; set access.unmatched to deny to harden")
	}

	// Session store.
	store, err := session.NewStore(session.Config{
		MaxPerPrincipal: e.cfg.Sessions.MaxPerPrincipal,
		Policy:          e.cfg.Sessions.ConcurrencyPolicy,
		IdleTimeout:     e.cfg.IdleTimeout(),
		SweepInterval:   e.cfg.SweepInterval(),
	})
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	log.Info("session store ready",
		"max_per_principal", e.cfg.Sessions.MaxPerPrincipal,
		"concurrency_policy", e.cfg.Sessions.ConcurrencyPolicy,
		"idle_timeout", e.cfg.IdleTimeout(),
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if e.cfg.Events.Enabled {
		mqttClient, err = mqtt.Connect(e.cfg.Events)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", e.cfg.Events.Broker.Host, e.cfg.Events.Broker.Port),
			"client_id", e.cfg.Events.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher := events.NewPublisher(mqttClient, byte(e.cfg.Events.QoS), log.Logger)
		store.OnEvent(publisher.HandleSessionEvent)
	} else {
		log.Info("session event publishing disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, e.db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// The sweeper blocks until the context is cancelled.
	store.Run(ctx)

	log.Info("shutdown signal received, cleaning up")
	log.Info("Gatehouse stopped")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient may be nil when event publishing is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}

func runCreateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	identifier := fs.String("identifier", "", "login identifier (required)")
	password := fs.String("password", "", "initial password (required)")
	display := fs.String("display", "", "display name (defaults to identifier)")
	roles := fs.String("roles", "user", "comma-separated roles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *identifier == "" || *password == "" {
		return fmt.Errorf("create-user: -identifier and -password are required")
	}
	if !auth.IsValidIdentifier(*identifier) {
		return fmt.Errorf("create-user: identifier %q is invalid (letters, digits, . _ -, max 64)", *identifier)
	}
	roleSet, err := parseRoles(*roles)
	if err != nil {
		return fmt.Errorf("create-user: %w", err)
	}

	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	hash, err := auth.HashPassword(*password, e.cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	name := *display
	if name == "" {
		name = *identifier
	}

	principal := &auth.Principal{
		Identifier:   *identifier,
		DisplayName:  name,
		PasswordHash: hash,
		Roles:        roleSet,
		IsActive:     true,
	}
	if err := e.principals.Create(ctx, principal); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}

	recordAudit(ctx, e, &audit.AuditLog{
		Action:     audit.ActionProvisioned,
		EntityType: audit.EntityPrincipal,
		EntityID:   principal.ID,
		Source:     auditSource,
		Details:    map[string]any{"identifier": *identifier, "roles": *roles},
	})

	fmt.Printf("created %s (%s)\n", principal.ID, *identifier)
	return nil
}

func runSetRoles(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-roles", flag.ContinueOnError)
	id := fs.String("id", "", "principal ID (required)")
	roles := fs.String("roles", "", "comma-separated roles (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" || *roles == "" {
		return fmt.Errorf("set-roles: -id and -roles are required")
	}
	roleSet, err := parseRoles(*roles)
	if err != nil {
		return fmt.Errorf("set-roles: %w", err)
	}

	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	principal, err := e.principals.GetByID(ctx, *id)
	if err != nil {
		return fmt.Errorf("loading principal: %w", err)
	}

	principal.Roles = roleSet
	if err := e.principals.Update(ctx, principal); err != nil {
		return fmt.Errorf("updating principal: %w", err)
	}

	recordAudit(ctx, e, &audit.AuditLog{
		Action:      audit.ActionRolesChanged,
		EntityType:  audit.EntityPrincipal,
		EntityID:    principal.ID,
		PrincipalID: principal.ID,
		Source:      auditSource,
		Details:     map[string]any{"roles": *roles},
	})

	fmt.Printf("roles for %s set to %s\n", principal.ID, *roles)
	return nil
}

func runResetPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	id := fs.String("id", "", "principal ID (required)")
	password := fs.String("password", "", "new password (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" || *password == "" {
		return fmt.Errorf("reset-password: -id and -password are required")
	}

	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	// Fail with a clear message before hashing when the ID is unknown.
	principal, err := e.principals.GetByID(ctx, *id)
	if err != nil {
		return fmt.Errorf("loading principal: %w", err)
	}

	hash, err := auth.HashPassword(*password, e.cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := e.principals.UpdatePassword(ctx, principal.ID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	recordAudit(ctx, e, &audit.AuditLog{
		Action:      audit.ActionPasswordReset,
		EntityType:  audit.EntityPrincipal,
		EntityID:    principal.ID,
		PrincipalID: principal.ID,
		Source:      auditSource,
	})

	fmt.Printf("password reset for %s\n", principal.ID)
	return nil
}

func runDeactivate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deactivate", flag.ContinueOnError)
	id := fs.String("id", "", "principal ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" {
		return fmt.Errorf("deactivate: -id is required")
	}

	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := e.principals.Deactivate(ctx, *id); err != nil {
		return fmt.Errorf("deactivating principal: %w", err)
	}

	recordAudit(ctx, e, &audit.AuditLog{
		Action:      audit.ActionDeactivated,
		EntityType:  audit.EntityPrincipal,
		EntityID:    *id,
		PrincipalID: *id,
		Source:      auditSource,
	})

	fmt.Printf("deactivated %s\n", *id)
	return nil
}

func runList(ctx context.Context) error {
	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	principals, err := e.principals.List(ctx)
	if err != nil {
		return fmt.Errorf("listing principals: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTIFIER\tPROVIDER\tROLES\tACTIVE\tCREATED")
	for i := range principals {
		p := &principals[i]
		identifier := p.Identifier
		if identifier == "" {
			identifier = "-"
		}
		provider := p.Provider
		if provider == "" {
			provider = "local"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			p.ID, identifier, provider,
			strings.Join(p.RoleStrings(), ","),
			p.IsActive,
			p.CreatedAt.Format("2006-01-02"),
		)
	}
	return w.Flush()
}

func runAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	action := fs.String("action", "", "filter by action (login, login_failed, logout, ...)")
	principal := fs.String("principal", "", "filter by principal ID")
	limit := fs.Int("limit", 50, "max entries to return")
	offset := fs.Int("offset", 0, "pagination offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := e.audit.List(ctx, audit.Filter{
		Action:      *action,
		PrincipalID: *principal,
		Limit:       *limit,
		Offset:      *offset,
	})
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tENTITY\tPRINCIPAL\tSOURCE")
	for _, entry := range result.Logs {
		principalID := entry.PrincipalID
		if principalID == "" {
			principalID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\n",
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.Action,
			entry.EntityType, entry.EntityID,
			principalID,
			entry.Source,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("showing %d of %d entries\n", len(result.Logs), result.Total)
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	e, cleanup, err := open()
	if err != nil {
		return err
	}
	defer cleanup()

	applied, pending, err := e.db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.Version)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("%d applied, %d pending\n", len(applied), len(pending))
	return nil
}

func runMigrateDown(ctx context.Context) error {
	e, cleanup, err := open()
	if err != nil {
		return err
	}
	defer cleanup()

	applied, _, err := e.db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("no applied migrations to roll back")
		return nil
	}

	latest := applied[len(applied)-1]
	if err := e.db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	fmt.Printf("rolled back %s\n", latest.Version)
	return nil
}

// parseRoles splits a comma-separated role list and validates each role.
func parseRoles(s string) ([]auth.Role, error) {
	var roles []auth.Role
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		role := auth.Role(part)
		if !auth.IsValidRole(role) {
			return nil, fmt.Errorf("unknown role %q", part)
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	return roles, nil
}

// recordAudit writes an audit entry for an operator action. Failures
// are logged, never fatal: the action itself already succeeded.
func recordAudit(ctx context.Context, e *env, entry *audit.AuditLog) {
	if err := e.audit.Create(ctx, entry); err != nil {
		e.log.Warn("recording audit entry", "action", entry.Action, "error", err)
	}
}
