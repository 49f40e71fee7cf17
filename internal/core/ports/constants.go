package ports

import "time"

const (
	DefaultAssignmentTTL  = 90 * time.Second // Exclusive window of an offered order
	MaxAssignmentTTL      = 30 * time.Minute
	DefaultClaimableLimit = 50
	DefaultEntriesLimit   = 100
	DefaultCurrency       = "INR"
)
