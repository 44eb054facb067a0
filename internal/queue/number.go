package queue

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MaxSequence is the last pickup number a store can hand out in a day.
const MaxSequence = 999

var (
	ErrInvalidQueueNumber    = errors.New("invalid queue number")
	ErrQueueCapacityExceeded = errors.New("queue capacity exceeded")
)

var queueNumberPattern = regexp.MustCompile(`^D(\d{3})$`)

// QueueCapacityExceededError is returned instead of wrapping to D000 or
// widening the format.
type QueueCapacityExceededError struct {
	StoreID      string
	BusinessDate string
}

func (e *QueueCapacityExceededError) Error() string {
	return fmt.Sprintf("store %s has issued all %d queue numbers for %s", e.StoreID, MaxSequence, e.BusinessDate)
}

func (e *QueueCapacityExceededError) Unwrap() error {
	return ErrQueueCapacityExceeded
}

// FormatQueueNumber renders a sequence as shown on the pickup board.
func FormatQueueNumber(sequence int) string {
	return fmt.Sprintf("D%03d", sequence)
}

// ParseSequence accepts only "D" followed by exactly three digits in 1..999.
func ParseSequence(number string) (int, error) {
	m := queueNumberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQueueNumber, number)
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil || seq < 1 || seq > MaxSequence {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidQueueNumber, number)
	}
	return seq, nil
}
