package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLoggingConfig(t *testing.T, dir, body string) {
	t.Helper()
	configDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `{"logging": {"level": "debug", "debug_mode": true}}`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	t.Cleanup(CloseAll)

	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryRoster, CategoryPartition, CategoryPrompt, CategoryStream,
		CategoryGuide, CategoryScheduler, CategoryCache, CategoryStore, CategoryAPI,
		CategoryEvents, CategoryServer, CategoryWarmer,
	}
	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}
	CloseAll()

	logsPath := filepath.Join(tempDir, DirName, "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), "_"+string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("Failed to read log file for %s: %v", cat, err)
				} else if len(content) == 0 {
					t.Errorf("Log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug_mode is false
func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `{"logging": {"debug_mode": false}}`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	t.Cleanup(CloseAll)

	Guide("should not be written")
	Audit(AuditEvent{EventType: AuditCacheHit})

	if _, err := os.Stat(filepath.Join(tempDir, DirName, "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs directory should not exist in production mode, stat err=%v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `{"logging": {"debug_mode": true, "categories": {"guide": false}}}`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	t.Cleanup(CloseAll)

	if IsCategoryEnabled(CategoryGuide) {
		t.Error("guide category should be disabled")
	}
	if !IsCategoryEnabled(CategoryCache) {
		t.Error("unlisted categories default to enabled")
	}
}

func TestJSONFormatAndAudit(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `{"logging": {"debug_mode": true, "json_format": true, "level": "info"}}`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	t.Cleanup(CloseAll)

	Cache("lookup %s", "Patch servers")
	Audit(AuditEvent{EventType: AuditGuideGenerated, AssignmentID: 3, Target: "Patch servers", Success: true})
	CloseAll()

	logsPath := filepath.Join(tempDir, DirName, "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	var sawCache, sawAudit bool
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case strings.HasSuffix(entry.Name(), "_cache.log"):
			sawCache = true
			line := string(data)
			idx := strings.Index(line, "{")
			if idx < 0 {
				t.Fatalf("expected JSON entry, got %q", line)
			}
			var entry StructuredLogEntry
			if err := json.Unmarshal([]byte(strings.TrimSpace(line[idx:])), &entry); err != nil {
				t.Fatalf("invalid JSON log entry: %v", err)
			}
			if entry.Message != "lookup Patch servers" || entry.Category != "cache" {
				t.Errorf("unexpected entry %+v", entry)
			}
		case strings.HasSuffix(entry.Name(), "_audit.jsonl"):
			sawAudit = true
			var ev AuditEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &ev); err != nil {
				t.Fatalf("invalid audit line: %v", err)
			}
			if ev.EventType != AuditGuideGenerated || ev.AssignmentID != 3 {
				t.Errorf("unexpected audit event %+v", ev)
			}
		}
	}
	if !sawCache || !sawAudit {
		t.Fatalf("expected cache log and audit trail, got cache=%v audit=%v", sawCache, sawAudit)
	}
}

func TestRequestLoggerFormatsFields(t *testing.T) {
	r := WithRequestID(CategoryAPI, "abc").WithField("model", "qwen3:8b")
	got := r.formatMsg("generate %d", 1)
	if !strings.HasPrefix(got, "[req:abc] generate 1") || !strings.Contains(got, "qwen3:8b") {
		t.Fatalf("unexpected message %q", got)
	}
	if r.RequestID() != "abc" {
		t.Fatalf("unexpected id %q", r.RequestID())
	}
}
