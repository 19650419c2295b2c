package service

// RatingAggregate is a running (average, count) pair.
type RatingAggregate struct {
	Average float64
	Count   int
}

// UpdateRunningAverage folds one new value into a running average and
// returns the new pair. Pure function: callers persist the result
// transactionally alongside the event that produced the new value, instead
// of mutating a shared counter as a side effect.
func UpdateRunningAverage(prev RatingAggregate, newValue float64) RatingAggregate {
	count := prev.Count + 1
	return RatingAggregate{
		Average: (prev.Average*float64(prev.Count) + newValue) / float64(count),
		Count:   count,
	}
}
