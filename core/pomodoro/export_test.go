package pomodoro

import "time"

// SetNowFunc overrides the clock of svc.
func (svc *Service) SetNowFunc(fn func() time.Time) { svc.nowFunc = fn }
