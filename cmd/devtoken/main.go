// Command devtoken mints a signed access token for local testing.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"classroll/internal/auth"
	"classroll/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		subject string
		role    string
		ttl     time.Duration
	)
	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.StringVarP(&subject, "subject", "s", "", "user id; for students, the id used in class rosters")
	flagSet.StringVarP(&role, "role", "r", string(auth.RoleStudent), "admin, teacher, student or a legacy code 1/3/2")
	flagSet.DurationVar(&ttl, "ttl", cfg.AccessTTL, "token lifetime")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: devtoken --subject S1 --role student [--ttl 1h]\n\n%s", flagSet.FlagUsages())
		return nil
	}
	if cfg.IsProduction() {
		return errors.New("refusing to mint tokens with APP_ENV=" + cfg.Env)
	}

	r, err := auth.ParseRole(role)
	if err != nil {
		return err
	}
	tok, err := auth.Issue(subject, r, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok.AccessToken)
	return nil
}
