package signal

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"golang.org/x/time/rate"
)

// connState is owned by the connection's read pump.
type connState struct {
	id        core.ConnID
	userID    domain.UserID
	sessionID domain.SessionID
	joined    bool

	limiters *UserRateLimiter
	limitKey string
	limiter  *rate.Limiter
}

// rateKey is the user when known, otherwise the connection itself.
func (st *connState) rateKey() string {
	if st.userID != "" {
		return "user:" + string(st.userID)
	}
	return "conn:" + string(st.id)
}

func (st *connState) limitBy(l *UserRateLimiter, key string) {
	if l == nil || key == st.limitKey {
		return
	}
	if st.limiter != nil {
		l.Release(st.limitKey)
	}
	st.limiters = l
	st.limitKey = key
	st.limiter = l.Acquire(key)
}

func (st *connState) allow() bool {
	return st.limiter == nil || st.limiter.Allow()
}

func (st *connState) release() {
	if st.limiters != nil && st.limiter != nil {
		st.limiters.Release(st.limitKey)
		st.limiter = nil
	}
}
