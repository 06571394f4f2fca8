package obs

import (
	"expvar"
	"sync/atomic"
)

var (
	activeRequests int64
	totalRequests  int64

	// authOutcomes 的键形如 "validate.unauthorized"、"login.ok"。
	authOutcomes = expvar.NewMap("auth_outcomes")
	// malformedRoles 按原因计数，不含 role 原文。
	malformedRoles = expvar.NewMap("auth_malformed_roles")
)

func init() {
	expvar.Publish("active_requests", expvar.Func(func() any {
		return atomic.LoadInt64(&activeRequests)
	}))
	expvar.Publish("total_requests", expvar.Func(func() any {
		return atomic.LoadInt64(&totalRequests)
	}))
}

// TrackRequest 增加活跃/累计请求计数，返回值需 defer 调用以减少活跃计数。
func TrackRequest() func() {
	atomic.AddInt64(&activeRequests, 1)
	atomic.AddInt64(&totalRequests, 1)
	return func() {
		atomic.AddInt64(&activeRequests, -1)
	}
}

func RecordAuthOutcome(op string, outcome string) {
	if op == "" || outcome == "" {
		return
	}
	authOutcomes.Add(op+"."+outcome, 1)
}

func RecordMalformedRole(reason string, n int) {
	if reason == "" || n <= 0 {
		return
	}
	malformedRoles.Add(reason, int64(n))
}

// AuthOutcome 读取计数，主要给测试使用。
func AuthOutcome(op string, outcome string) int64 {
	v, ok := authOutcomes.Get(op + "." + outcome).(*expvar.Int)
	if !ok || v == nil {
		return 0
	}
	return v.Value()
}
