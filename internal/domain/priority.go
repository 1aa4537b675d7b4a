package domain

import (
	"math"

	"github.com/pkg/errors"
)

// BucketPriority is the urgency of a bucket. A smaller code is synced first.
type BucketPriority struct {
	code int32
}

var (
	// FullSyncPriority is the catch-all tier that completes last.
	FullSyncPriority = BucketPriority{code: math.MaxInt32}

	// DefaultPriority is assigned to buckets without an explicit priority.
	DefaultPriority = BucketPriority{code: 3}
)

// NewBucketPriority returns the priority for code. It panics when code is
// negative; use ParseBucketPriority for untrusted input.
func NewBucketPriority(code int32) BucketPriority {
	p, err := ParseBucketPriority(int64(code))
	if err != nil {
		panic(err)
	}
	return p
}

// ParseBucketPriority validates code and returns the matching priority.
func ParseBucketPriority(code int64) (BucketPriority, error) {
	if code < 0 || code > math.MaxInt32 {
		return BucketPriority{}, errors.Wrapf(ErrPreconditionViolation, "invalid bucket priority code %d", code)
	}
	return BucketPriority{code: int32(code)}, nil
}

// Code returns the raw priority code.
func (p BucketPriority) Code() int32 {
	return p.code
}

func (p BucketPriority) IsFullSync() bool {
	return p.code == FullSyncPriority.code
}

// HigherThan reports whether p is synced before o.
func (p BucketPriority) HigherThan(o BucketPriority) bool {
	return ComparePriority(p, o) > 0
}

// ComparePriority orders priorities by urgency: it returns a positive number
// when a is more urgent than b, zero when they are equal and a negative number
// otherwise. The order is the inverse of the raw code order.
func ComparePriority(a, b BucketPriority) int {
	switch {
	case a.code < b.code:
		return 1
	case a.code > b.code:
		return -1
	default:
		return 0
	}
}

// HighestFirst is a sort comparator listing the most urgent priority first.
func HighestFirst(a, b BucketPriority) int {
	return ComparePriority(b, a)
}
