package timestamp

import "time"

// T is a unix timestamp in seconds as used in event created_at fields and
// filter since/until bounds.
type T int64

func Now() T {
	return T(time.Now().Unix())
}

func (t T) Time() time.Time {
	return time.Unix(int64(t), 0)
}

func (t T) Ptr() *T {
	return &t
}
