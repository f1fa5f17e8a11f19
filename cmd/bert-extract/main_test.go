package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolFlagPassed(t *testing.T) {
	fs := flag.NewFlagSet("bert-extract", flag.ContinueOnError)
	lower := fs.Bool("do_lower_case", true, "")
	fs.Bool("do_tokens_only", true, "")

	require.NoError(t, fs.Parse([]string{"-do_lower_case=false"}))

	assert.True(t, boolFlagPassed(fs, "do_lower_case"))
	assert.False(t, *lower)
	// default value, not given: must not count as passed so a config file
	// setting survives
	assert.False(t, boolFlagPassed(fs, "do_tokens_only"))
	assert.False(t, boolFlagPassed(fs, "no_such_flag"))
}
