package engine

import (
	"os"
	"strconv"
)

// Environment switch names. Read once when the configuration is captured.
const (
	EnvBackoutInvalidNeqFT     = "PSP_BACKOUT_INVALID_NEQ_FT"
	EnvBackoutEqInvalidInvalid = "PSP_BACKOUT_EQ_INVALID_INVALID"
	EnvBackoutNveqFT           = "PSP_BACKOUT_NVEQ_FT"
	EnvLogProgress             = "PSP_LOG_PROGRESS"
)

// Config carries the process-wide behavior switches. It is captured
// immutably at engine construction and never re-read during a batch.
type Config struct {
	// BackoutInvalidNeqFT disables the rule that classifies a newly-absent
	// invalid cell as NEQ_FT, reporting EQ_FF instead.
	BackoutInvalidNeqFT bool
	// BackoutEqInvalidInvalid disables the rule that classifies an
	// invalid-to-invalid update on an existing row as EQ_TT.
	BackoutEqInvalidInvalid bool
	// BackoutNveqFT disables the NVEQ_FT classification for cells becoming
	// valid on an existing row.
	BackoutNveqFT bool
	// LogProgress emits a human-readable trace on ContextsLastUpdated.
	LogProgress bool
}

// ConfigFromEnv captures the environment switches. Unset or unparsable
// variables default to false.
func ConfigFromEnv() Config {
	return Config{
		BackoutInvalidNeqFT:     envBool(EnvBackoutInvalidNeqFT),
		BackoutEqInvalidInvalid: envBool(EnvBackoutEqInvalidInvalid),
		BackoutNveqFT:           envBool(EnvBackoutNveqFT),
		LogProgress:             envBool(EnvLogProgress),
	}
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
