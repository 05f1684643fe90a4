package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENTS - guide lifecycle trail, one JSON object per line
// =============================================================================

// AuditEventType names a guide lifecycle event.
type AuditEventType string

const (
	AuditDealCreated     AuditEventType = "deal_created"
	AuditCacheHit        AuditEventType = "cache_hit"
	AuditCacheMiss       AuditEventType = "cache_miss"
	AuditCacheSaveFailed AuditEventType = "cache_save_failed"
	AuditGuideGenerated  AuditEventType = "guide_generated"
	AuditGuideFailed     AuditEventType = "guide_failed"
	AuditGuideCancelled  AuditEventType = "guide_cancelled"
	AuditRegenerate      AuditEventType = "regenerate"
	AuditReloadBroadcast AuditEventType = "reload_broadcast"
)

// AuditEvent is a single audit record.
type AuditEvent struct {
	Timestamp    int64                  `json:"ts"`
	EventType    AuditEventType         `json:"event"`
	RequestID    string                 `json:"req,omitempty"`
	AssignmentID int                    `json:"assignment"`
	Target       string                 `json:"target,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Success      bool                   `json:"success"`
	DurationMs   int64                  `json:"dur_ms,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail when debug mode is on.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit writes an audit event. It is a no-op unless InitAudit succeeded.
func Audit(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}
