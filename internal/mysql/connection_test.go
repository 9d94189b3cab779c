package mysql

import (
	"strings"
	"testing"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConnectionConfig
		want string
	}{
		{
			name: "TCP connection with all fields",
			cfg: ConnectionConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "secret",
				Database: "templates",
			},
			want: "root:secret@tcp(localhost:3306)/templates?interpolateParams=true",
		},
		{
			name: "TCP connection without database",
			cfg: ConnectionConfig{
				Host:     "192.168.1.100",
				Port:     3307,
				User:     "forge",
				Password: "pass123",
			},
			want: "forge:pass123@tcp(192.168.1.100:3307)/sqlforge?interpolateParams=true",
		},
		{
			name: "Unix socket connection",
			cfg: ConnectionConfig{
				Socket:   "/var/run/mysqld/mysqld.sock",
				User:     "app",
				Password: "apppass",
				Database: "production",
			},
			want: "app:apppass@unix(/var/run/mysqld/mysqld.sock)/production?interpolateParams=true",
		},
		{
			name: "Empty password",
			cfg: ConnectionConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "readonly",
				Database: "test",
			},
			want: "readonly@tcp(localhost:3306)/test?interpolateParams=true",
		},
		{
			name: "Required TLS",
			cfg: ConnectionConfig{
				Host:     "db.internal",
				Port:     3306,
				User:     "u",
				Password: "p",
				Database: "d",
				TLSMode:  "required",
			},
			want: "u:p@tcp(db.internal:3306)/d?interpolateParams=true&tls=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDSN_InvalidTLSMode(t *testing.T) {
	_, err := buildDSN(ConnectionConfig{Host: "h", Port: 1, User: "u", TLSMode: "sometimes"})
	if err == nil {
		t.Fatal("expected error for invalid TLS mode")
	}
	if !strings.Contains(err.Error(), "invalid TLS mode") {
		t.Errorf("error = %v, want mention of invalid TLS mode", err)
	}
}

func TestBuildDSN_SocketPrecedence(t *testing.T) {
	dsn, err := buildDSN(ConnectionConfig{
		Host:   "localhost",
		Port:   3306,
		Socket: "/tmp/mysql.sock",
		User:   "user",
	})
	if err != nil {
		t.Fatalf("buildDSN() error: %v", err)
	}
	if !strings.Contains(dsn, "unix(/tmp/mysql.sock)") {
		t.Errorf("DSN with socket should use unix protocol, got: %s", dsn)
	}
	if strings.Contains(dsn, "tcp") {
		t.Errorf("DSN with socket should not contain tcp, got: %s", dsn)
	}
}

func TestConnect_CustomTLSRequiresCA(t *testing.T) {
	_, err := Connect(t.Context(), ConnectionConfig{Host: "localhost", Port: 3306, TLSMode: "custom"})
	if err == nil || !strings.Contains(err.Error(), "tls_ca") {
		t.Errorf("Connect() error = %v, want tls_ca requirement", err)
	}
}
