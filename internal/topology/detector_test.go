package topology

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func showVar(name string) string {
	return "SHOW VARIABLES LIKE '" + strings.ReplaceAll(name, "_", `\_`) + "'"
}

func showStatus(name string) string {
	return "SHOW GLOBAL STATUS LIKE '" + strings.ReplaceAll(name, "_", `\_`) + "'"
}

func varRow(name, value string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"Variable_name", "Value"}).AddRow(name, value)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectReadOnly(mock sqlmock.Sqlmock, ro, sro string) {
	mock.ExpectQuery(showVar("read_only")).WillReturnRows(varRow("read_only", ro))
	mock.ExpectQuery(showVar("super_read_only")).WillReturnRows(varRow("super_read_only", sro))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(mock sqlmock.Sqlmock)
		wantType     Type
		wantWritable bool
		wantString   string
	}{
		{
			name: "standalone",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(showVar("group_replication_group_name")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnRows(sqlmock.NewRows([]string{"Source_Host"}))
			},
			wantType:     Standalone,
			wantWritable: true,
			wantString:   "standalone",
		},
		{
			name: "standalone with read_only",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "ON", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(showVar("group_replication_group_name")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnRows(sqlmock.NewRows([]string{"Source_Host"}))
			},
			wantType:     Standalone,
			wantWritable: false,
			wantString:   "standalone, read-only",
		},
		{
			name: "replica via legacy syntax",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(showVar("group_replication_group_name")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnError(errors.New("syntax error"))
				mock.ExpectQuery("SHOW SLAVE STATUS").
					WillReturnRows(sqlmock.NewRows([]string{"Master_Host"}).AddRow("10.0.0.1"))
			},
			wantType:     Replica,
			wantWritable: false,
			wantString:   "replica, read-only",
		},
		{
			name: "galera synced",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnRows(varRow("wsrep_on", "ON"))
				mock.ExpectQuery(showStatus("wsrep_cluster_size")).WillReturnRows(varRow("wsrep_cluster_size", "3"))
				mock.ExpectQuery(showStatus("wsrep_local_state_comment")).WillReturnRows(varRow("wsrep_local_state_comment", "Synced"))
			},
			wantType:     Galera,
			wantWritable: true,
			wantString:   "galera (3 nodes, Synced)",
		},
		{
			name: "galera donor",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnRows(varRow("wsrep_on", "ON"))
				mock.ExpectQuery(showStatus("wsrep_cluster_size")).WillReturnRows(varRow("wsrep_cluster_size", "3"))
				mock.ExpectQuery(showStatus("wsrep_local_state_comment")).WillReturnRows(varRow("wsrep_local_state_comment", "Donor/Desynced"))
			},
			wantType:     Galera,
			wantWritable: false,
			wantString:   "galera (3 nodes, Donor/Desynced), read-only",
		},
		{
			name: "group replication secondary",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(showVar("group_replication_group_name")).
					WillReturnRows(varRow("group_replication_group_name", "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"))
				mock.ExpectQuery(showVar("group_replication_single_primary_mode")).
					WillReturnRows(varRow("group_replication_single_primary_mode", "ON"))
				mock.ExpectQuery(`SELECT MEMBER_ROLE FROM performance_schema.replication_group_members WHERE MEMBER_ID = @@server_uuid`).
					WillReturnRows(sqlmock.NewRows([]string{"MEMBER_ROLE"}).AddRow("SECONDARY"))
			},
			wantType:     GroupRepl,
			wantWritable: false,
			wantString:   "group-replication SECONDARY, read-only",
		},
		{
			name: "group replication multi-primary",
			setup: func(mock sqlmock.Sqlmock) {
				expectReadOnly(mock, "OFF", "OFF")
				mock.ExpectQuery(showVar("wsrep_on")).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(showVar("group_replication_group_name")).
					WillReturnRows(varRow("group_replication_group_name", "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"))
				mock.ExpectQuery(showVar("group_replication_single_primary_mode")).
					WillReturnRows(varRow("group_replication_single_primary_mode", "OFF"))
				mock.ExpectQuery(`SELECT MEMBER_ROLE FROM performance_schema.replication_group_members WHERE MEMBER_ID = @@server_uuid`).
					WillReturnRows(sqlmock.NewRows([]string{"MEMBER_ROLE"}).AddRow("PRIMARY"))
			},
			wantType:     GroupRepl,
			wantWritable: true,
			wantString:   "group-replication PRIMARY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			tt.setup(mock)

			info, err := Detect(t.Context(), db)
			if err != nil {
				t.Fatalf("Detect() error: %v", err)
			}
			if info.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", info.Type, tt.wantType)
			}
			if info.Writable() != tt.wantWritable {
				t.Errorf("Writable() = %v, want %v", info.Writable(), tt.wantWritable)
			}
			if got := info.String(); got != tt.wantString {
				t.Errorf("String() = %q, want %q", got, tt.wantString)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestDetect_QueryError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(showVar("read_only")).WillReturnError(errors.New("connection lost"))

	if _, err := Detect(t.Context(), db); err == nil {
		t.Fatal("expected an error when read_only cannot be read")
	}
}

func TestDetect_GaleraStatusError(t *testing.T) {
	db, mock := newMock(t)
	expectReadOnly(mock, "OFF", "OFF")
	mock.ExpectQuery(showVar("wsrep_on")).WillReturnRows(varRow("wsrep_on", "ON"))
	mock.ExpectQuery(showStatus("wsrep_cluster_size")).WillReturnError(errors.New("connection lost"))

	if _, err := Detect(t.Context(), db); err == nil {
		t.Fatal("expected an error when the cluster size cannot be read")
	}
}
