// refresh exchanges every configured credential for a token and stores the
// result in the file token cache, so the server starts with warm tokens. It
// can also report on the cached record without changing it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/friendrelay/friendrelay/internal/cache"
	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/friendrelay/friendrelay/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/pflag"
)

// Config holds the defaults for each flag, read from the same environment as
// the server.
type Config struct {
	CredentialsFile string        `env:"CREDENTIALS_FILE, default=accounts.json"`
	CacheDir        string        `env:"CACHE_DIR, default=.cache"`
	TokenLifetime   time.Duration `env:"CACHE_TOKEN_LIFETIME, default=8h"`
	IssuerURL       string        `env:"ISSUER_URL"`
	IssuerTimeout   time.Duration `env:"ISSUER_TIMEOUT, default=25s"`
}

type report struct {
	Action    string    `json:"action"`
	Count     int       `json:"count"`
	IssuedAt  time.Time `json:"issued_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Valid     bool      `json:"valid"`
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger

	err := run(context.Background(), os.Args[1:], os.Stdout, nil)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, lookup envconfig.Lookuper) error {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	var force, inspect bool

	flagSet := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.CredentialsFile, "credentials", cfg.CredentialsFile, "credentials file (JSON or YAML list of uid/password)")
	flagSet.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory holding the token record")
	flagSet.DurationVar(&cfg.TokenLifetime, "lifetime", cfg.TokenLifetime, "how long refreshed tokens stay valid")
	flagSet.StringVar(&cfg.IssuerURL, "issuer-url", cfg.IssuerURL, "token issuing endpoint")
	flagSet.DurationVar(&cfg.IssuerTimeout, "timeout", cfg.IssuerTimeout, "timeout for each token exchange")
	flagSet.BoolVarP(&force, "force", "f", false, "refresh even when the cached tokens are still valid")
	flagSet.BoolVar(&inspect, "inspect", false, "report on the cached tokens without refreshing")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	store, err := cache.NewFile[token.Set](cfg.CacheDir)
	if err != nil {
		return err
	}
	tokens := token.NewCache(store, cfg.TokenLifetime)

	status, err := tokens.Inspect(ctx)
	if err != nil {
		if inspect {
			return err
		}
		log.Ctx(ctx).Warn().Err(err).Msg("cached tokens unreadable, refreshing")
		status = token.Status{}
	}

	if inspect {
		return writeReport(out, "inspect", status)
	}

	if status.Valid && !force {
		return writeReport(out, "skipped", status)
	}

	if cfg.IssuerURL == "" {
		return errors.New("issuer URL is required: set ISSUER_URL or --issuer-url")
	}

	issuer, err := token.NewIssuerClient(cfg.IssuerURL, http.DefaultClient)
	if err != nil {
		return err
	}

	creds, err := credential.LoadFile(cfg.CredentialsFile)
	if err != nil {
		return err
	}

	refreshed := token.NewProvider(issuer, cfg.IssuerTimeout).Refresh(ctx, creds)
	if len(refreshed) == 0 {
		return fmt.Errorf("no tokens issued for %d credentials", len(creds))
	}

	if err := tokens.Save(ctx, refreshed); err != nil {
		return err
	}

	status, err = tokens.Inspect(ctx)
	if err != nil {
		return err
	}

	return writeReport(out, "refreshed", status)
}

func writeReport(out io.Writer, action string, status token.Status) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Action:    action,
		Count:     status.Count,
		IssuedAt:  status.IssuedAt,
		ExpiresAt: status.ExpiresAt,
		Valid:     status.Valid,
	})
}
