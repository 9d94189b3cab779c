// Package topology works out where a MySQL template store sits in its
// cluster and whether it will accept template writes.
package topology

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/nethalo/sqlforge/internal/mysql"
)

// Type represents the detected MySQL topology.
type Type string

const (
	Standalone Type = "standalone"
	Replica    Type = "replica"
	Galera     Type = "galera"
	GroupRepl  Type = "group-replication"
)

// Info holds the topology state relevant to a template store.
type Info struct {
	Type          Type
	ReadOnly      bool
	SuperReadOnly bool

	// Galera / PXC
	GaleraClusterSize int
	GaleraNodeState   string // Synced, Donor, Desynced, etc.

	// Group Replication
	GRSinglePrimary bool
	GRMemberRole    string // PRIMARY or SECONDARY
}

// Writable reports whether template writes can succeed on this server.
func (i *Info) Writable() bool {
	if i.ReadOnly || i.SuperReadOnly {
		return false
	}
	switch i.Type {
	case Replica:
		return false
	case Galera:
		return i.GaleraNodeState == "" || i.GaleraNodeState == "Synced"
	case GroupRepl:
		return !i.GRSinglePrimary || i.GRMemberRole == "PRIMARY"
	}
	return true
}

func (i *Info) String() string {
	var b strings.Builder
	b.WriteString(string(i.Type))
	switch i.Type {
	case Galera:
		fmt.Fprintf(&b, " (%d nodes", i.GaleraClusterSize)
		if i.GaleraNodeState != "" {
			b.WriteString(", " + i.GaleraNodeState)
		}
		b.WriteString(")")
	case GroupRepl:
		if i.GRMemberRole != "" {
			b.WriteString(" " + i.GRMemberRole)
		}
	}
	if !i.Writable() {
		b.WriteString(", read-only")
	}
	return b.String()
}

// Detect determines the topology of the server behind db.
func Detect(ctx context.Context, db *sql.DB) (*Info, error) {
	info := &Info{}

	ro, err := mysql.GetVariable(ctx, db, "read_only")
	if err != nil {
		return nil, err
	}
	info.ReadOnly = ro == "ON"
	sro, _ := mysql.GetVariable(ctx, db, "super_read_only")
	info.SuperReadOnly = sro == "ON"

	// Try Galera detection first (most specific)
	if detected, err := detectGalera(ctx, db, info); err != nil {
		return nil, err
	} else if detected {
		return info, nil
	}

	if detected, err := detectGroupReplication(ctx, db, info); err != nil {
		return nil, err
	} else if detected {
		return info, nil
	}

	if detectReplica(ctx, db) {
		info.Type = Replica
		return info, nil
	}

	info.Type = Standalone
	return info, nil
}

func detectGalera(ctx context.Context, db *sql.DB, info *Info) (bool, error) {
	wsrepOn, err := mysql.GetVariable(ctx, db, "wsrep_on")
	if err != nil {
		return false, err
	}
	if wsrepOn != "ON" {
		return false, nil
	}

	clusterSize, err := mysql.GetStatus(ctx, db, "wsrep_cluster_size")
	if err != nil {
		return false, err
	}
	size, _ := strconv.Atoi(clusterSize)
	if size == 0 {
		return false, nil
	}

	info.Type = Galera
	info.GaleraClusterSize = size
	info.GaleraNodeState, _ = mysql.GetStatus(ctx, db, "wsrep_local_state_comment")
	return true, nil
}

func detectGroupReplication(ctx context.Context, db *sql.DB, info *Info) (bool, error) {
	group, err := mysql.GetVariable(ctx, db, "group_replication_group_name")
	if err != nil {
		return false, err
	}
	if group == "" {
		return false, nil
	}

	info.Type = GroupRepl
	single, _ := mysql.GetVariable(ctx, db, "group_replication_single_primary_mode")
	info.GRSinglePrimary = single == "ON"

	var role sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT MEMBER_ROLE
		FROM performance_schema.replication_group_members
		WHERE MEMBER_ID = @@server_uuid`).Scan(&role)
	if err == nil && role.Valid {
		info.GRMemberRole = role.String
	}
	return true, nil
}

func detectReplica(ctx context.Context, db *sql.DB) bool {
	rows, err := db.QueryContext(ctx, "SHOW REPLICA STATUS")
	if err != nil {
		// Try older syntax
		rows, err = db.QueryContext(ctx, "SHOW SLAVE STATUS")
	}
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}
