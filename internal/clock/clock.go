package clock

import "time"

// Timer is a handle to a scheduled one-shot callback.
type Timer interface {
	// Stop cancels the callback; false if it already fired or was stopped.
	Stop() bool
}

// Clock — источник времени и планировщик отложенных вызовов.
// Колбэк выполняется в отдельной горутине, даже если вызывающий уже вернулся.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Real struct{}

func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
