package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Access token refreshes by result.",
		},
		[]string{"result"},
	)

	gatewayRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gateway_rejections_total",
			Help: "Requests rejected by the auth gateway, by reason.",
		},
		[]string{"reason"},
	)

	oneTimeTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_one_time_tokens_total",
			Help: "One-time token operations by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	sessionsRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Sessions revoked, by scope.",
		},
		[]string{"scope"},
	)

	forgotPasswordTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_forgot_password_requests_total",
			Help: "Forgot-password requests by outcome.",
		},
		[]string{"outcome"},
	)
)
