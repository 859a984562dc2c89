package classify

// Focus picks the bucket a reminder widget should show: overdue when there
// is any, otherwise today, otherwise upcoming. BucketNone means nothing to show.
func Focus(r Result) Bucket {
	switch {
	case len(r.Overdue) > 0:
		return BucketOverdue
	case len(r.Today) > 0:
		return BucketToday
	case len(r.Upcoming) > 0:
		return BucketUpcoming
	default:
		return BucketNone
	}
}
