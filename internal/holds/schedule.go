package holds

import (
	"math"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

const day = 24 * time.Hour

// ReleaseDate is start plus days whole days.
func ReleaseDate(start time.Time, days int) time.Time {
	return start.Add(time.Duration(days) * day)
}

// PlannedRelease derives the release date from the entry's hold metadata rather
// than trusting the stored column.
func PlannedRelease(entry models.PaymentTransaction) time.Time {
	return ReleaseDate(entry.HoldStartDate, entry.DaysToHold)
}

// IsEligible reports whether the entry may be batched into a payout at now.
// The hold ends at the planned release instant, inclusive.
func IsEligible(entry models.PaymentTransaction, now time.Time) bool {
	if !entry.Status.IsPayable() || entry.PayedOut {
		return false
	}
	return !now.Before(PlannedRelease(entry))
}

// RemainingDays rounds the outstanding hold up to whole days; zero once elapsed.
func RemainingDays(entry models.PaymentTransaction, now time.Time) int {
	return remaining(entry, now, day)
}

// RemainingHours rounds the outstanding hold up to whole hours; zero once elapsed.
func RemainingHours(entry models.PaymentTransaction, now time.Time) int {
	return remaining(entry, now, time.Hour)
}

func remaining(entry models.PaymentTransaction, now time.Time, unit time.Duration) int {
	left := PlannedRelease(entry).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(unit)))
}
