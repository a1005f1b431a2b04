package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Rudd3r/honeymirror/pkg/args"
	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/honeymirror"
	flag "github.com/spf13/pflag"
)

func main() {
	(&args.Root{
		Commands: []args.Command{
			&args.Cmd[domain.CommandServe]{
				Names:            []string{"serve"},
				Description:      "Run the honeypot. Everything a connected party types is echoed back and mirrored to every other registered channel.",
				ShortDescription: "Run the honeypot",
				PositionalArgs:   []*args.PositionalArg[domain.CommandServe]{},
				Flags: func(cfg *domain.CommandServe, flags *flag.FlagSet) {
					flags.StringVarP(
						&cfg.Addr,
						"addr", "a", "",
						"Address to listen on (default from config, "+domain.DefaultListenAddr+")",
					)
					flags.IntVarP(
						&cfg.Port,
						"port", "p", 0,
						fmt.Sprintf("Port to listen on (default from config, %d)", domain.DefaultListenPort),
					)
					flags.IntVarP(
						&cfg.Capacity,
						"capacity", "c", 0,
						fmt.Sprintf("Maximum number of mirrored channels (default from config, %d)", domain.DefaultCapacity),
					)
					flags.Var(
						&cfg.AuthStrategy,
						"auth",
						"Authentication strategy: "+strings.Join(authStrategyNames(), ", "),
					)
					flags.Var(
						args.NewCredentialsValue(&cfg.AllowedPasswords),
						"allow",
						"Credential accepted by the allow-list strategy (format: user:password, repeatable)",
					)
					flags.StringVar(
						&cfg.MetricsAddr,
						"metrics-addr", "",
						"Serve prometheus metrics on this address (e.g., 127.0.0.1:9100)",
					)
					flags.Float64Var(
						&cfg.BroadcastRate,
						"rate", 0,
						"Limit mirrored bytes per second per session (0 for unlimited)",
					)
				},
				Run: func(ctx context.Context, log *slog.Logger, cfg *domain.Config, cmdCfg *domain.CommandServe) error {
					if err := honeymirror.NewMirror(ctx, log, cfg, os.Stdout).Serve(cmdCfg); err != nil {
						_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
						return err
					}
					return nil
				},
			},
			&args.Cmd[domain.CommandConnect]{
				Names:            []string{"connect"},
				Description:      "Open a terminal on a running honeypot and watch what everyone else types",
				ShortDescription: "Join a honeypot as an operator",
				PositionalArgs: []*args.PositionalArg[domain.CommandConnect]{
					{
						Name:        "Target",
						Description: "Honeypot address as HOST[:PORT]",
						Parse: func(positional []string, cfg *domain.CommandConnect) (next []string, err error) {
							host, port, err := args.ParseHostPort(positional[0])
							if err != nil {
								return positional, err
							}
							cfg.Host = host
							if port != 0 {
								cfg.Port = port
							}
							return positional[1:], nil
						},
					},
				},
				Flags: func(cfg *domain.CommandConnect, flags *flag.FlagSet) {
					flags.StringVarP(
						&cfg.User,
						"user", "u", "root",
						"User to log in as",
					)
					flags.StringVar(
						&cfg.Password,
						"password", "",
						"Password to offer",
					)
					flags.StringVarP(
						&cfg.IdentityFile,
						"identity", "i", "",
						"Private key to offer",
					)
				},
				Run: func(ctx context.Context, log *slog.Logger, cfg *domain.Config, cmdCfg *domain.CommandConnect) error {
					if err := honeymirror.NewMirror(ctx, log, cfg, os.Stdout).Connect(cmdCfg); err != nil {
						_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
						return err
					}
					return nil
				},
			},
			&args.ParentCommand{
				Names:            []string{"hostkey", "keys"},
				Description:      "Manage the SSH host key",
				ShortDescription: "Manage the SSH host key",
				SubCommands: []args.Command{
					&args.Cmd[domain.CommandKeygen]{
						Names:            []string{"generate", "gen"},
						Description:      "Generate an ed25519 host key. Existing keys are never overwritten.",
						ShortDescription: "Generate a host key",
						Flags: func(cfg *domain.CommandKeygen, flags *flag.FlagSet) {
							flags.StringVarP(
								&cfg.Path,
								"output", "o", "",
								"Where to write the key (default --host-key, or the data dir)",
							)
						},
						Run: func(ctx context.Context, log *slog.Logger, cfg *domain.Config, cmdCfg *domain.CommandKeygen) error {
							return honeymirror.NewMirror(ctx, log, cfg, os.Stdout).Keygen(cmdCfg)
						},
					},
					&args.Cmd[domain.CommandKeygen]{
						Names:            []string{"fingerprint", "fp"},
						Description:      "Print the SHA256 fingerprint of a host key",
						ShortDescription: "Print a host key fingerprint",
						Flags: func(cfg *domain.CommandKeygen, flags *flag.FlagSet) {
							flags.StringVarP(
								&cfg.Path,
								"key", "k", "",
								"Key to read (default --host-key, or the data dir)",
							)
						},
						Run: func(ctx context.Context, log *slog.Logger, cfg *domain.Config, cmdCfg *domain.CommandKeygen) error {
							return honeymirror.NewMirror(ctx, log, cfg, os.Stdout).Fingerprint(cmdCfg)
						},
					},
				},
			},
		},
	}).Run()
}

func authStrategyNames() []string {
	names := make([]string, 0, len(domain.AuthStrategies))
	for _, strategy := range domain.AuthStrategies {
		names = append(names, strategy.String())
	}
	return names
}
