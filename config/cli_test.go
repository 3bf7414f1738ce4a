package config

import (
	"flag"
	"testing"

	"github.com/peterbourgon/ff/v3"
	"github.com/stretchr/testify/require"
)

func TestRangeFlagParsing(t *testing.T) {
	var r Range
	require.NoError(t, parseRange("17-30", &r))
	require.Equal(t, Range{17, 30}, r)

	require.Error(t, parseRange("30-17", &r))
	require.Error(t, parseRange("17", &r))
	require.Error(t, parseRange("a-b", &r))
}

func TestFlagsFallBackToEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("QUALITY_FLOOR", "90")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli := Cli{}
	AddFlags(fs, &cli)
	require.NoError(t, ff.Parse(fs, []string{}, ff.WithEnvVarNoPrefix()))

	require.Equal(t, "postgres://env-host/db", cli.DatabaseURL)
	require.Equal(t, float64(90), cli.QualityFloor)
	require.Equal(t, Range{17, 30}, cli.CRFRange)
	require.Equal(t, Range{25, 40}, cli.QPRange)
}
