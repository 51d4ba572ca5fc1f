package db

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/costdesk/internal/config"
	"github.com/zulandar/costdesk/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		user     string
		password string
		database string
		want     string
	}{
		{
			name:     "default local",
			host:     "127.0.0.1",
			port:     3306,
			user:     "root",
			database: "costdesk",
			want:     "root@tcp(127.0.0.1:3306)/costdesk?parseTime=true",
		},
		{
			name:     "password and custom port",
			host:     "10.0.0.5",
			port:     3307,
			user:     "desk",
			password: "s3cret",
			database: "costdesk_prod",
			want:     "desk:s3cret@tcp(10.0.0.5:3307)/costdesk_prod?parseTime=true",
		},
		{
			name: "admin without database",
			host: "db.vpc.internal",
			port: 3306,
			user: "root",
			want: "root@tcp(db.vpc.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.host, tt.port, tt.user, tt.password, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_IPv6(t *testing.T) {
	dsn := DSN("::1", 3306, "root", "", "x")
	if !strings.Contains(dsn, "tcp([::1]:3306)") {
		t.Errorf("DSN should bracket IPv6 host: %s", dsn)
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 2 {
		t.Errorf("AllModels() returned %d models, want 2", n)
	}
}

func TestOpen_SQLiteMigrates(t *testing.T) {
	gdb, err := Open(config.RegistryConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { Close(gdb) })

	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.RegistryConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), `unknown driver "oracle"`) {
		t.Errorf("err = %v, want unknown driver", err)
	}
}

func TestPurgeSessions(t *testing.T) {
	gdb, err := Open(config.RegistryConfig{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { Close(gdb) })

	gdb.Create(&models.ChatSession{Key: "web:1", Surface: models.SurfaceWeb, LastActivity: time.Now()})
	gdb.Create(&models.ChatTurn{SessionKey: "web:1", Sequence: 1, Sender: "user", Text: "hi", Citations: "[]"})

	if err := PurgeSessions(gdb); err != nil {
		t.Fatalf("PurgeSessions: %v", err)
	}
	var n int64
	gdb.Model(&models.ChatSession{}).Count(&n)
	if n != 0 {
		t.Errorf("sessions left = %d, want 0", n)
	}
	gdb.Model(&models.ChatTurn{}).Count(&n)
	if n != 0 {
		t.Errorf("turns left = %d, want 0", n)
	}
}

func TestConnect_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect("127.0.0.1", 1, "root", "", "nonexistent")
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestConnectAdmin_Error(t *testing.T) {
	_, err := ConnectAdmin("127.0.0.1", 1, "root", "")
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}
