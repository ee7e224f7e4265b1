// Package entitlement resolves who the session belongs to and what it may use.
package entitlement

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/jrsteele09/go-coach-engine/internal/utils"
	"github.com/rs/zerolog"
)

const mePath = "/auth/me"

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// SubscriptionStatus as reported by the payments backend
type SubscriptionStatus string

const (
	StatusInactive SubscriptionStatus = "inactive"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
)

// Entitlement is the access level of one session. It is never mutated after resolution.
type Entitlement struct {
	IsPremium          bool
	IsAdmin            bool
	TrialEndsAt        *time.Time
	SubscriptionStatus SubscriptionStatus
}

// Restricted is the entitlement assumed when identity cannot be resolved
var Restricted = Entitlement{SubscriptionStatus: StatusInactive}

// Identity describes the session owner
type Identity struct {
	Email            string
	HasLinkedAccount bool
	// Known is false when the identity call failed and the fields above are defaults
	Known bool
}

type meResponse struct {
	Email              string     `json:"email"`
	HasGarminConnected bool       `json:"has_garmin_connected"`
	IsPremium          bool       `json:"is_premium"`
	IsAdmin            bool       `json:"is_admin"`
	TrialEndsAt        *time.Time `json:"trial_ends_at"`
	SubscriptionStatus string     `json:"subscription_status"`
}

// Resolver turns the identity endpoint into an Identity and Entitlement
type Resolver struct {
	caller      gateway.Caller
	adminEmails map[string]struct{}
	logger      zerolog.Logger
}

type ResolverOption func(*Resolver)

func WithLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithAdminEmails grants admin to the listed emails regardless of the server flag
func WithAdminEmails(emails ...string) ResolverOption {
	return func(r *Resolver) {
		for _, e := range emails {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				r.adminEmails[e] = struct{}{}
			}
		}
	}
}

func NewResolver(caller gateway.Caller, options ...ResolverOption) *Resolver {
	r := &Resolver{
		caller:      caller,
		adminEmails: make(map[string]struct{}),
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve fetches the identity once. A rejected token returns ErrUnauthorized;
// any other failure degrades to Restricted with an unknown identity and a nil error.
func (r *Resolver) Resolve(ctx context.Context) (Identity, Entitlement, error) {
	var me meResponse
	if err := r.caller.Call(ctx, http.MethodGet, mePath, nil, &me); err != nil {
		if gateway.IsKind(err, gateway.KindUnauthorized) {
			return Identity{}, Restricted, fmt.Errorf("[Resolve] %w: %w", coacherrors.ErrUnauthorized, err)
		}
		r.logger.Warn().Err(err).Msg("Identity lookup failed, using restricted entitlement")
		return Identity{}, Restricted, nil
	}

	identity := Identity{
		Email:            me.Email,
		HasLinkedAccount: me.HasGarminConnected,
		Known:            true,
	}
	status := SubscriptionStatus(strings.ToLower(me.SubscriptionStatus))
	if status == "" {
		status = StatusInactive
	}
	ent := Entitlement{
		IsAdmin:            me.IsAdmin || r.isAdminEmail(me.Email),
		TrialEndsAt:        me.TrialEndsAt,
		SubscriptionStatus: status,
	}
	ent.IsPremium = me.IsPremium || effectivePremium(status, me.TrialEndsAt, NowTimeFunc())
	return identity, ent, nil
}

func (r *Resolver) isAdminEmail(email string) bool {
	_, ok := r.adminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

func effectivePremium(status SubscriptionStatus, trialEndsAt *time.Time, now time.Time) bool {
	switch status {
	case StatusActive:
		return true
	case StatusTrialing:
		return utils.TimePtrAfter(trialEndsAt, now)
	default:
		return false
	}
}

// Allow is the single gating policy for premium features
func Allow(ent Entitlement) bool {
	return ent.IsPremium || ent.IsAdmin
}
