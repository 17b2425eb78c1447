package model

import "time"

// Shared defaults used by the store and the CLI.
const (
	DefaultPartitionWidthDays = 1
	DefaultSearchLimit        = 100
	DefaultQueryTimeout       = 30 * time.Second
)
