// session-agent — консольный клиент сервиса сессий. Открывает сессию,
// держит её продлённой до сигнала завершения и выходит при остановке.
//
// Примеры:
//
//	session-agent -base http://localhost:8080 -email a@example.com login
//	session-agent -base http://localhost:8080 -name "Alice Smith" -email a@example.com -role volunteer register
//	session-agent -provider google -id-token <token> oauth
//	session-agent status
//	session-agent csrf
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pribylovaa/volunteer-hub/internal/client"
	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
)

func main() {
	var (
		baseURL  = flag.String("base", envOr("SESSION_AGENT_BASE_URL", "http://localhost:8080"), "auth service base url")
		dbPath   = flag.String("db", envOr("SESSION_AGENT_DB", "session.db"), "sqlite file for the session snapshot")
		interval = flag.Duration("renew", client.DefaultRenewInterval, "renewal interval")
		email    = flag.String("email", "", "email")
		name     = flag.String("name", "", "display name (register)")
		role     = flag.String("role", "volunteer", "role (register)")
		phone    = flag.String("phone", "", "phone (register, optional)")
		provider = flag.String("provider", "google", "federated provider (oauth)")
		idToken  = flag.String("id-token", "", "provider id token (oauth)")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: session-agent [flags] login|register|oauth|status|csrf")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := client.OpenSQLite(ctx, *dbPath)
	if err != nil {
		log.Error("snapshot_store_open_failed", logctx.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	forced := make(chan error, 1)
	agent, err := client.New(client.Options{
		BaseURL:       *baseURL,
		RenewInterval: *interval,
		Store:         store,
		Logger:        log,
		OnLogout: func(reason error) {
			if reason != nil {
				select {
				case forced <- reason:
				default:
				}
			}
		},
	})
	if err != nil {
		log.Error("agent_init_failed", logctx.Err(err))
		os.Exit(1)
	}

	var snap *client.Snapshot

	switch cmd := flag.Arg(0); cmd {
	case "status":
		s, err := store.Load(ctx)
		if err != nil {
			log.Error("snapshot_load_failed", logctx.Err(err))
			os.Exit(1)
		}
		if s == nil {
			fmt.Println("no session")
			return
		}
		printSnapshot(s)
		return

	case "csrf":
		tok, err := agent.CSRFToken(ctx)
		if err != nil {
			log.Error("csrf_failed", logctx.Err(err))
			os.Exit(1)
		}
		fmt.Println(tok)
		return

	case "login":
		snap, err = agent.Login(ctx, *email, readPassword())

	case "register":
		snap, err = agent.Register(ctx, client.RegisterInput{
			Name:     *name,
			Email:    *email,
			Password: readPassword(),
			Role:     *role,
			Phone:    *phone,
		})

	case "oauth":
		snap, err = agent.FederatedLogin(ctx, *provider, *idToken)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}

	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "%s (%d)\n", apiErr.Message, apiErr.Status)
			os.Exit(1)
		}
		log.Error("session_start_failed", logctx.Err(err))
		os.Exit(1)
	}

	printSnapshot(snap)
	log.Info("session_active", slog.Duration("renew", *interval))

	select {
	case <-ctx.Done():
		logoutCtx, logoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		agent.Logout(logoutCtx)
		logoutCancel()
		log.Info("session_closed")
	case reason := <-forced:
		log.Warn("session_lost", slog.String("err", reason.Error()))
		os.Exit(1)
	}
}

func printSnapshot(s *client.Snapshot) {
	fmt.Printf("user_id=%s name=%q email=%s role=%s login_at=%s\n",
		s.UserID, s.Name, s.Email, s.Role, s.LoginAt.Format(time.RFC3339))
}

// readPassword берёт пароль из SESSION_AGENT_PASSWORD, чтобы он не попадал
// в историю shell и список процессов.
func readPassword() string {
	return os.Getenv("SESSION_AGENT_PASSWORD")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
