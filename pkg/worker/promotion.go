package worker

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
	"github.com/cuemby/pgcontrold/pkg/state"
)

// PromotionHandler implements ElectionStatusHandler: on winning the election
// while Standby, it promotes the local instance to primary.
type PromotionHandler struct {
	role *state.RoleState
}

// NewPromotionHandler builds a PromotionHandler bound to the process Role State.
func NewPromotionHandler(role *state.RoleState) *PromotionHandler {
	return &PromotionHandler{role: role}
}

// HandleStatus implements §4.6. A non-leader result is a no-op. A leader
// result while Standby attempts pg_promote(true): a literal true result
// sets role to Master, anything else (falsy result or connection/query
// error) sets role to DeadMaster. A leader result while already Master or
// DeadMaster is a no-op; we do not re-promote.
func (h *PromotionHandler) HandleStatus(ctx context.Context, isLeader bool) {
	if !isLeader {
		return
	}
	if h.role.CurrentRole() != state.Standby {
		return
	}

	if h.promote(ctx) {
		metrics.PromotionsTotal.WithLabelValues("success").Inc()
		h.role.SetRole(ctx, state.Master)
		return
	}

	metrics.PromotionsTotal.WithLabelValues("failure").Inc()
	h.role.SetRole(ctx, state.DeadMaster)
}

func (h *PromotionHandler) promote(ctx context.Context) bool {
	conn, err := pgx.Connect(ctx, "postgres://controller@localhost/postgres")
	if err != nil {
		log.WithComponent("promotion").Error().Err(err).Msg("failed to connect for promotion")
		return false
	}
	defer conn.Close(ctx)

	var promoted bool
	if err := conn.QueryRow(ctx, "SELECT pg_promote(true)").Scan(&promoted); err != nil {
		log.WithComponent("promotion").Error().Err(err).Msg("pg_promote query failed")
		return false
	}

	if !promoted {
		log.WithComponent("promotion").Error().Msg("pg_promote returned false")
	}
	return promoted
}

// ContinueParticipating implements §4.6: the election loop only keeps
// racing while this node is Standby. Once Master or DeadMaster, it stops
// racing without releasing the held session.
func (h *PromotionHandler) ContinueParticipating() bool {
	return h.role.CurrentRole() == state.Standby
}
