package args

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type targetCmd struct {
	Target string
	Port   int
}

func newTargetCmd(required bool, ran *bool) *Cmd[targetCmd] {
	return &Cmd[targetCmd]{
		Names: []string{"target"},
		Flags: func(cfg *targetCmd, flags *flag.FlagSet) {
			flags.IntVarP(&cfg.Port, "port", "p", 0, "Port")
		},
		PositionalArgs: []*PositionalArg[targetCmd]{
			{
				Name:     "Target",
				Required: required,
				Parse: func(args []string, cfg *targetCmd) ([]string, error) {
					cfg.Target = args[0]
					return args[1:], nil
				},
			},
		},
		Run: func(ctx context.Context, log *slog.Logger, cfg *domain.Config, cmdCfg *targetCmd) error {
			*ran = true
			return nil
		},
	}
}

func callCmd[V any](cmd *Cmd[V], args ...string) error {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cmd.Call(context.Background(), log, domain.NewDefaultConfig(), args)
}

func TestCmdMissingRequiredPositional(t *testing.T) {
	var ran bool
	err := callCmd(newTargetCmd(true, &ran))
	assert.ErrorContains(t, err, "missing required argument TARGET")
	assert.False(t, ran)
}

func TestCmdOptionalPositionalMayBeOmitted(t *testing.T) {
	var ran bool
	require.NoError(t, callCmd(newTargetCmd(false, &ran)))
	assert.True(t, ran)
}

func TestCmdParsesPositionalAfterFlags(t *testing.T) {
	var ran bool
	cmd := newTargetCmd(true, &ran)
	require.NoError(t, callCmd(cmd, "--port", "2222", "honeypot.local"))

	assert.True(t, ran)
	assert.Equal(t, "honeypot.local", cmd.cmdCfg.Target)
	assert.Equal(t, 2222, cmd.cmdCfg.Port)
}

func TestCmdPositionalEqualToFlagValue(t *testing.T) {
	var ran bool
	cmd := newTargetCmd(true, &ran)
	require.NoError(t, callCmd(cmd, "-p", "22", "22"))

	assert.Equal(t, "22", cmd.cmdCfg.Target)
	assert.Equal(t, 22, cmd.cmdCfg.Port)
}

func TestCmdRejectsExtraPositional(t *testing.T) {
	var ran bool
	err := callCmd(newTargetCmd(true, &ran), "one", "two")
	assert.ErrorContains(t, err, "no additional positional arguments")
	assert.False(t, ran)
}
