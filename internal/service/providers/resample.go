package providers

import (
	"time"

	"FinAlloc/internal/domain/models"
)

// weekly folds daily bars into ISO-week bars stamped with the week's first session.
func weekly(daily []models.Bar) []models.Bar {
	out := make([]models.Bar, 0, len(daily)/5+1)
	var (
		cur     models.Bar
		curWeek int
		curYear int
		open    bool
	)
	for _, b := range daily {
		y, w := b.Timestamp.ISOWeek()
		if !open || y != curYear || w != curWeek {
			if open {
				out = append(out, cur)
			}
			cur = b
			curYear, curWeek, open = y, w, true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if open {
		out = append(out, cur)
	}
	return out
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
