package db

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name:     "with password",
			cfg:      Config{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "ikgaihub", SSLMode: "require"},
			expected: "host=db port=5432 user=app password=secret dbname=ikgaihub sslmode=require",
		},
		{
			name:     "without password",
			cfg:      Config{Host: "localhost", Port: 5433, User: "postgres", Database: "test", SSLMode: "disable"},
			expected: "host=localhost port=5433 user=postgres dbname=test sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"001_reminders.up.sql", "002_notifications.up.sql", "003_goals.up.sql"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d migrations, got %v", len(expected), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("migration %d: expected %s, got %s", i, expected[i], names[i])
		}
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("create reminder: %w", storeErr("insert reminder", cause))

	if !IsStoreError(err) {
		t.Error("expected wrapped StoreError to be detected")
	}
	if !errors.Is(err, cause) {
		t.Error("expected StoreError to unwrap to its cause")
	}
	if err.Error() != "create reminder: insert reminder: connection reset" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	if IsStoreError(ErrReminderNotFound) {
		t.Error("sentinel errors are not store errors")
	}
}

func TestSettingsLocation(t *testing.T) {
	tests := []struct {
		timezone string
		expected string
	}{
		{"", "UTC"},
		{"Not/AZone", "UTC"},
		{"America/Sao_Paulo", "America/Sao_Paulo"},
	}

	for _, tt := range tests {
		t.Run(tt.timezone, func(t *testing.T) {
			s := NotificationSettings{Timezone: tt.timezone}
			if got := s.Location().String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestSettingsQuietWindow(t *testing.T) {
	s := NotificationSettings{QuietHoursStart: "22:00:00", QuietHoursEnd: "07:00:00"}

	start, end := s.QuietWindow()
	if start != "22:00:00" || end != "07:00:00" {
		t.Errorf("unexpected window %s-%s", start, end)
	}
}

func TestRecurrenceDaysNeverNil(t *testing.T) {
	if got := recurrenceDays(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}

	days := []int{1, 3, 5}
	if got := recurrenceDays(days); len(got) != 3 {
		t.Errorf("expected days to pass through, got %v", got)
	}
}
