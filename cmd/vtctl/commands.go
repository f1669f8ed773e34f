package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/buildinfo"
	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/filex"
	"github.com/dmitrijs2005/vitaltags/internal/netx"
	"github.com/dmitrijs2005/vitaltags/internal/server/auth"
	"github.com/dmitrijs2005/vitaltags/internal/server/ratelimit"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// readSecret is a test seam for term.ReadPassword.
var readSecret = term.ReadPassword

func newRootCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "vtctl",
		Usage:  "vitaltags operator tool",
		Writer: w,
		Commands: []*cli.Command{
			keygenCommand(w),
			migrateCommand(w),
			tokenCommand(w),
			purgeCommand(w),
			revokeCommand(w),
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(ctx context.Context, c *cli.Command) error {
					buildinfo.PrintBuildData(w)
					return nil
				},
			},
		},
	}
}

func dsnFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "dsn",
		Usage:    "Postgres connection string",
		Sources:  cli.EnvVars("DATABASE_URL"),
		Required: true,
	}
}

func keygenCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate the server's key material as environment assignments",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "write to this file (mode 0600) instead of stdout"},
			&cli.BoolFlag{Name: "force", Usage: "replace an existing --out file"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			env, err := generateKeys()
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				if err := filex.WriteSecretFile(out, []byte(env), c.Bool("force")); err != nil {
					return err
				}
				fmt.Fprintf(w, "keys written to %s\n", out)
				return nil
			}
			_, err = io.WriteString(w, env)
			return err
		},
	}
}

// generateKeys returns fresh KEK, token key, PII salt and JWT secret as
// KEY=value lines.
func generateKeys() (string, error) {
	var b strings.Builder
	for _, k := range []struct {
		name string
		size int
	}{
		{"KEK_HEX", cryptox.KeySize},
		{"TOKEN_KEY_HEX", cryptox.KeySize},
		{"PII_SALT_HEX", 16},
		{"JWT_SECRET", 32},
	} {
		v, err := common.MakeRandHexString(k.size)
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", k.name, err)
		}
		fmt.Fprintf(&b, "%s=%s\n", k.name, v)
	}
	return b.String(), nil
}

func migrateCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{dsnFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := repomanager.OpenPostgres(ctx, c.String("dsn"))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repomanager.RunMigrations(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(w, "migrations applied")
			return nil
		},
	}
}

func tokenCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an owner access token for the gRPC API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "owner id", Required: true},
			&cli.StringFlag{Name: "secret", Usage: "JWT signing secret", Sources: cli.EnvVars("JWT_SECRET"), Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 15 * time.Minute},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Duration("ttl") <= 0 {
				return errors.New("ttl must be positive")
			}
			token, err := auth.GenerateToken(c.String("owner"), []byte(c.String("secret")), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(w, token)
			return nil
		},
	}
}

func purgeCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete expired rate limit windows and consumed tokens",
		Flags: []cli.Flag{
			dsnFlag(),
			&cli.DurationFlag{Name: "older-than", Usage: "keep rows that expired less than this long ago"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := repomanager.OpenPostgres(ctx, c.String("dsn"))
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().Add(-c.Duration("older-than"))
			windows, err := ratelimit.NewPostgresLimiter(db).Purge(ctx, cutoff)
			if err != nil {
				return err
			}
			consumed, err := repomanager.NewPostgresRepositoryManager(db).ConsumedTokens().Purge(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "purged %d rate limit windows, %d consumed tokens\n", windows, consumed)
			return nil
		},
	}
}

func revokeCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "revoke",
		Usage:     "Revoke a profile through the public API",
		ArgsUsage: "<public-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
			&cli.StringFlag{Name: "code", Usage: "revocation code; prompted for when empty"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			publicID := c.Args().First()
			if publicID == "" {
				return errors.New("public id is required")
			}

			code := c.String("code")
			if code == "" {
				fmt.Fprint(w, "Revocation code: ")
				b, err := readSecret(int(os.Stdin.Fd()))
				fmt.Fprintln(w)
				if err != nil {
					return err
				}
				code = string(b)
				common.WipeByteArray(b)
			}

			target := strings.TrimRight(c.String("server"), "/") + "/api/e/" + url.PathEscape(publicID) + "/revoke"
			client := &http.Client{Timeout: 20 * time.Second}
			if err := netx.PostJSON(ctx, client, target, map[string]string{"revocationCode": code}, nil); err != nil {
				return err
			}
			fmt.Fprintln(w, "profile revoked")
			return nil
		},
	}
}
