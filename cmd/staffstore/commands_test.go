package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/staff-store/internal/app"
	"github.com/spec-kit/staff-store/internal/auth"
	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/envelope"
	"github.com/spec-kit/staff-store/internal/repository"
)

// useMemoryBackends points every command at tiers shared across invocations,
// the way separate processes share a database and Redis.
func useMemoryBackends(t *testing.T) {
	t.Helper()
	hash, err := auth.HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg := config.Config{
		Session: config.SessionConfig{
			TTLHours:      8,
			CapabilityTag: domain.PermissionStaffManagement,
			KeySalt:       "P1ST-SECURE-2025",
			DescriptorKey: "staffSession",
		},
		Store: config.StoreConfig{RecordKey: "healthcare_providers", RequireSession: true},
		Envelope: config.EnvelopeConfig{
			LowerThresholdBytes: 1 << 20,
			UpperThresholdBytes: 5 << 20,
		},
		Export: config.ExportConfig{Dir: filepath.Join(dir, "export"), FileName: "staff-data.json"},
		Login: config.LoginConfig{Users: []config.UserCredential{
			{Username: "ashin97", PasswordHash: hash, Permissions: []string{domain.PermissionStaffManagement}},
		}},
	}

	primary := repository.NewMemoryKVRepository()
	durable := repository.NewMemoryKVRepository()
	handoff := repository.NewHandoffRepository(filepath.Join(dir, "handoff.name"))

	old := buildContainer
	buildContainer = func(context.Context) (*app.Container, error) {
		return app.NewWithBackends(&cfg, zap.NewNop(), app.Backends{
			Primary: primary,
			Tab:     repository.NewMemoryKVRepository(),
			Durable: durable,
			Handoff: handoff,
		}), nil
	}
	t.Cleanup(func() { buildContainer = old })

	oldColor := noColor
	noColor = true
	t.Cleanup(func() { noColor = oldColor })
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleArray = `[
  {"id":"1","name":"Dr. Amara Cole","title":"Medical Director","type":"medical"},
  {"id":"2","name":"Priya Raman","title":"Front Desk Lead","type":"Support"}
]`

func TestLoginRequiresUsername(t *testing.T) {
	useMemoryBackends(t)
	_, err := run(t, "", "login", "--username", "", "--password", "x")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("err = %v, want mention of required", err)
	}
}

func TestImportRequiresSession(t *testing.T) {
	useMemoryBackends(t)
	path := writeFile(t, "staff.json", sampleArray)
	if _, err := run(t, "", "import", path); err == nil {
		t.Fatal("import without session succeeded")
	}
}

func TestImportListExport(t *testing.T) {
	useMemoryBackends(t)

	if _, err := run(t, "correct horse\n", "login", "--username", "Ashin97", "--password", "", "--remember=true"); err != nil {
		t.Fatalf("login: %v", err)
	}

	path := writeFile(t, "staff.json", sampleArray)
	if _, err := run(t, "", "import", path); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := run(t, "", "list", "--json=true", "--type=")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var records []domain.StaffRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("list output: %v\n%s", err, out)
	}
	if len(records) != 2 || records[1].Category != domain.CategorySupport {
		t.Fatalf("records = %+v", records)
	}

	out, err = run(t, "", "list", "--json=false", "--type=support")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Priya Raman") || strings.Contains(out, "Amara Cole") || !strings.Contains(out, "from primary") {
		t.Fatalf("filtered list = %q", out)
	}

	out, err = run(t, "", "export", "--output=-")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil || doc.Encrypted {
		t.Fatalf("artifact = %s (%v)", out, err)
	}

	// an exported artifact imports back unchanged
	artifact := writeFile(t, "staff-data.json", out)
	if _, err := run(t, "", "import", artifact); err != nil {
		t.Fatalf("import artifact: %v", err)
	}

	out, err = run(t, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "session: ashin97 (capable: true)") || !strings.Contains(out, "sealed, 2 records") {
		t.Fatalf("status = %q", out)
	}

	if _, err := run(t, "", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	out, _ = run(t, "", "status")
	if !strings.Contains(out, "session: none") {
		t.Fatalf("status after logout = %q", out)
	}
}

func TestParseImportRejectsSealed(t *testing.T) {
	codec := envelope.NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	key, err := envelope.NewKey(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	raw, _, err := codec.EncodeJSON([]domain.StaffRecord{{ID: "1", Name: "A"}}, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parseImport(raw, codec); err == nil {
		t.Fatal("sealed envelope imported without a key")
	}
	if _, err := parseImport([]byte(`{"metadata":{}}`), codec); err == nil {
		t.Fatal("artifact without staff imported")
	}
	records, err := parseImport([]byte(sampleArray), codec)
	if err != nil || len(records) != 2 {
		t.Fatalf("array import = %v, %v", records, err)
	}
}
