package auth

import "time"

func (svc *Service) SetNowFunc(fn func() time.Time) { svc.nowFunc = fn }

func (svc *Service) TTLs() (access, refresh time.Duration) { return svc.accessTTL, svc.refreshTTL }
