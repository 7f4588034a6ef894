package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cuemby/pgcontrold/pkg/log"
)

// RoleReader is the minimal slice of state.RoleState that ReplicationProbe needs:
// whether this node currently believes it is a standby. Declared here
// instead of imported to avoid a dependency from health onto state.
type RoleReader interface {
	IsStandby() bool
}

// connString builds the local controller connection string used by both
// probes: user=controller host=localhost, no password (trust expected).
func connString(connectTimeoutSeconds int) string {
	return fmt.Sprintf("postgres://controller@localhost/postgres?connect_timeout=%d", connectTimeoutSeconds)
}

// AliveProbe implements the postgresAlive check: open a connection to the
// local instance and run SELECT 1. Any connection or query error fails it.
type AliveProbe struct {
	ConnectTimeoutSeconds int
}

// NewAliveProbe builds an AliveProbe.
func NewAliveProbe(connectTimeoutSeconds int) *AliveProbe {
	return &AliveProbe{ConnectTimeoutSeconds: connectTimeoutSeconds}
}

// Run implements Probe.
func (p *AliveProbe) Run(ctx context.Context) bool {
	conn, err := pgx.Connect(ctx, connString(p.ConnectTimeoutSeconds))
	if err != nil {
		log.WithCheck(string(Alive)).Debug().Err(err).Msg("connect failed")
		return false
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		log.WithCheck(string(Alive)).Debug().Err(err).Msg("query failed")
		return false
	}
	return one == 1
}

// ReplicationProbe implements the postgresStandbyReplication check: when
// this node is not a standby the check is skipped (reports passing);
// otherwise it queries wal_receiver_status() and passes iff it streams.
type ReplicationProbe struct {
	ConnectTimeoutSeconds int
	Role                  RoleReader
}

// NewReplicationProbe builds a ReplicationProbe bound to the process Role State.
func NewReplicationProbe(connectTimeoutSeconds int, role RoleReader) *ReplicationProbe {
	return &ReplicationProbe{ConnectTimeoutSeconds: connectTimeoutSeconds, Role: role}
}

// Run implements Probe.
func (p *ReplicationProbe) Run(ctx context.Context) bool {
	if !p.Role.IsStandby() {
		return true
	}

	conn, err := pgx.Connect(ctx, connString(p.ConnectTimeoutSeconds))
	if err != nil {
		log.WithCheck(string(StandbyReplication)).Debug().Err(err).Msg("connect failed")
		return false
	}
	defer conn.Close(ctx)

	var status string
	if err := conn.QueryRow(ctx, "SELECT wal_receiver_status()").Scan(&status); err != nil {
		log.WithCheck(string(StandbyReplication)).Debug().Err(err).Msg("query failed")
		return false
	}
	return status == "streaming"
}
