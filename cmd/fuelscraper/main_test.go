package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
	"github.com/andygrunwald/fuel-price-scraper/internal/config"
)

func TestDayIn_UsesConfiguredZone(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Timezone = "Europe/Madrid"

	// 23:30 UTC on March 3rd is already March 4th in Madrid.
	now := time.Date(2021, 3, 3, 23, 30, 0, 0, time.UTC)

	today, err := dayIn(now, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), today)

	yesterday, err := dayIn(now, -1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC), yesterday)

	cfg.Timezone = "UTC"
	today, err = dayIn(now, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC), today)

	cfg.Timezone = "Mars/Olympus_Mons"
	_, err = dayIn(now, 0)
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	date, err := parseDate("2021-03-04", "--date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), date)

	_, err = parseDate("04-03-2021", "--date")
	assert.ErrorContains(t, err, "--date")
}

func TestVersionCmd(t *testing.T) {
	cfg = config.DefaultConfig()

	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Fuel Price Scraper "+Version)
	assert.Contains(t, out.String(), minetur.DefaultBaseURL)
	assert.Contains(t, out.String(), "sqlite")

	out.Reset()
	cmd = versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, Version+"\n", out.String())
}
