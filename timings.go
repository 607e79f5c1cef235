package httpdrive

import "time"

// CallTimings records the instant at which each phase of a call completed.
// Every field is nil until its phase has been traversed in the current leg;
// CallStart is written on InputBegin and again on InputPrepared, the others
// once each. A redirect starts a fresh leg and clears them all.
type CallTimings struct {
	CallStart    *time.Time
	Resolve      *time.Time
	Connect      *time.Time
	SendRequest  *time.Time
	SendBody     *time.Time
	Await100     *time.Time
	RecvResponse *time.Time
	RecvBody     *time.Time
}

func ptrTime(t time.Time) *time.Time { return &t }

// firstSet returns the first non-nil timestamp among ts, or nil.
func firstSet(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}
