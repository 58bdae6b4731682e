package chat

import "time"

type Bucket int

const (
	BucketToday Bucket = iota
	BucketYesterday
	BucketLast7Days
	BucketLast30Days
	BucketOlder
)

var bucketTitles = [...]string{
	BucketToday:      "Today",
	BucketYesterday:  "Yesterday",
	BucketLast7Days:  "Last 7 Days",
	BucketLast30Days: "Last 30 Days",
	BucketOlder:      "Older",
}

func (b Bucket) String() string {
	if b < BucketToday || b > BucketOlder {
		return "Unknown"
	}
	return bucketTitles[b]
}

type Group struct {
	Bucket Bucket
	Items  []Summary
}

// DaysSince is the whole number of days between t and now, rounded down.
// Timestamps in the future count as zero.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func BucketFor(updatedAt, now time.Time) Bucket {
	switch days := DaysSince(updatedAt, now); {
	case days == 0:
		return BucketToday
	case days == 1:
		return BucketYesterday
	case days < 7:
		return BucketLast7Days
	case days < 30:
		return BucketLast30Days
	default:
		return BucketOlder
	}
}

// GroupByRecency returns all five buckets in display order. Items keep their
// relative order inside a bucket.
func GroupByRecency(items []Summary, now time.Time) []Group {
	groups := make([]Group, len(bucketTitles))
	for i := range groups {
		groups[i].Bucket = Bucket(i)
	}
	for _, s := range items {
		b := BucketFor(s.UpdatedAt, now)
		groups[b].Items = append(groups[b].Items, s)
	}
	return groups
}
