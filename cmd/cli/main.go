// Command appkit is a CLI harness for the client core: it drives the
// session manager against a real backend for development and debugging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/appkit/internal/config"
	"github.com/and161185/appkit/internal/model"
	"github.com/and161185/appkit/internal/netclient"
	"github.com/and161185/appkit/internal/service"
	"github.com/and161185/appkit/internal/storage"
	"github.com/and161185/appkit/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func dataDir(cfg config.Config) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "appkit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "appkit")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// buildApp wires the stores, pipeline and session manager from config.
func buildApp(cfg config.Config, log *zap.Logger) (*service.AuthServiceImpl, func(), error) {
	dir := dataDir(cfg)

	key, err := storage.LoadOrCreateKey(filepath.Join(dir, "secure.key"))
	if err != nil {
		return nil, nil, fmt.Errorf("sealing key: %w", err)
	}
	secure, err := storage.NewSecure(filepath.Join(dir, "secure"), key)
	if err != nil {
		return nil, nil, err
	}
	general, err := storage.NewBadger(filepath.Join(dir, "kv"))
	if err != nil {
		return nil, nil, err
	}

	creds := storage.NewCredentials(secure, general, log)
	client := netclient.New(netclient.Options{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Logger:  log,
		Metrics: telemetry.NewRequestMetrics(prometheus.NewRegistry()),
	})
	svc := service.NewAuthService(client, creds, log)

	cleanup := func() {
		_ = secure.Close()
		_ = general.Close()
	}
	return svc, cleanup, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `appkit CLI
Usage:
  appkit [-config file] [-base-url URL] <cmd> [args]

Commands:
  version
  register   -u <username> -p <password> [-email <email>]
  login      -u <username> -p <password>
  logout
  status                                       (session + token check)
  whoami                                       (cached user record)
  profile                                      (fetch user from server)
  update     -json '{"nickname":"..."}'        (partial user update)
  reset-password -email <email> -code <code> -p <new password>
`)
	os.Exit(2)
}

func main() {
	cfgPath := flag.String("config", "", "config file (YAML)")
	baseURL := flag.String("base-url", "", "override base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("appkit %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}

	log, err := newLogger(cfg.Env)
	if err != nil {
		fail(err)
	}
	defer func() { _ = log.Sync() }()

	svc, cleanup, err := buildApp(cfg, log)
	if err != nil {
		fail(err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+30*time.Second)
	defer cancel()

	svc.Bootstrap(ctx)

	switch cmd {

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		email := fs.String("email", "", "email (optional)")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fail(errors.New("need -u and -p"))
		}
		user, err := svc.Register(ctx, model.RegisterParams{Username: *u, Password: *p, Email: *email})
		if err != nil {
			fail(err)
		}
		printJSON(user)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fail(errors.New("need -u and -p"))
		}
		user, err := svc.Login(ctx, model.Credentials{Username: *u, Password: *p})
		if err != nil {
			fail(err)
		}
		printJSON(user)

	case "logout":
		if err := svc.Logout(ctx); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "status":
		sess := svc.Session()
		fmt.Printf("status=%s authenticated=%v\n", sess.Status, svc.CheckAuth(ctx))

	case "whoami":
		sess := svc.Session()
		if sess.User == nil {
			fail(errors.New("no session (login first)"))
		}
		printJSON(sess.User)

	case "profile":
		user, err := svc.Profile(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(user)

	case "update":
		fs := flag.NewFlagSet("update", flag.ExitOnError)
		raw := fs.String("json", "", "partial update as JSON object")
		_ = fs.Parse(flag.Args()[1:])
		if *raw == "" {
			fail(errors.New("need -json"))
		}
		var patch map[string]any
		if err := json.Unmarshal([]byte(*raw), &patch); err != nil {
			fail(fmt.Errorf("bad -json: %w", err))
		}
		user, err := svc.UpdateUser(ctx, patch)
		if err != nil {
			fail(err)
		}
		printJSON(user)

	case "reset-password":
		fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
		email := fs.String("email", "", "account email")
		phone := fs.String("phone", "", "account phone")
		code := fs.String("code", "", "verification code")
		p := fs.String("p", "", "new password")
		_ = fs.Parse(flag.Args()[1:])
		if (*email == "" && *phone == "") || *code == "" || *p == "" {
			fail(errors.New("need -email or -phone, plus -code and -p"))
		}
		err := svc.ResetPassword(ctx, model.ResetPasswordParams{
			Email: *email, Phone: *phone, Code: *code, NewPassword: *p,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func fail(err error) {
	var nerr *netclient.Error
	if errors.As(err, &nerr) {
		fmt.Fprintf(os.Stderr, "error: type=%s msg=%s\n", nerr.Type, nerr.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
