// Package logging writes categorized debug logs for taskdealer.
//
// Each category gets its own file, <workspace>/.dealer/logs/<date>_<category>.log.
// Nothing is written unless debug_mode is set in .dealer/config.json, which
// the CLI exports from dealer.yaml at startup.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category names a subsystem; each has its own log file.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup, endpoint registry
	CategoryRoster    Category = "roster"    // names and task sources
	CategoryPartition Category = "partition" // group dealing
	CategoryPrompt    Category = "prompt"    // prompt building
	CategoryStream    Category = "stream"    // NDJSON decoding
	CategoryGuide     Category = "guide"     // per-assignment coordinators
	CategoryScheduler Category = "scheduler" // bounded worker pool
	CategoryCache     Category = "cache"     // cache collaborator calls
	CategoryStore     Category = "store"     // sqlite/redis guide store
	CategoryAPI       Category = "api"       // generation backend calls
	CategoryEvents    Category = "events"    // reload hub, buses, watcher
	CategoryServer    Category = "server"    // HTTP proxy and cache API
	CategoryWarmer    Category = "warmer"    // cache warming runs
)

// DirName is the per-workspace state directory.
const DirName = ".dealer"

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level. Unknown values are info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// settings is the "logging" object of .dealer/config.json.
type settings struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// StructuredLogEntry is one line of a category file in JSON mode.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // unix millis
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes one category. A Logger without a file discards everything.
type Logger struct {
	category Category
	out      *log.Logger
	file     *os.File
}

var (
	mu       sync.RWMutex
	cfg      settings
	minLevel Level
	logsDir  string

	loggers   = make(map[Category]*Logger)
	loggersMu sync.Mutex
)

// Initialize reads <ws>/.dealer/config.json and, in debug mode, creates the
// logs directory and opens the audit trail. Calling it again reloads the
// settings and reopens files.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}
	CloseAll()

	s, err := readSettings(ws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] ignoring %s: %v\n", filepath.Join(ws, DirName, "config.json"), err)
		s = settings{}
	}

	mu.Lock()
	logsDir = filepath.Join(ws, DirName, "logs")
	cfg = s
	minLevel = ParseLevel(s.Level)
	mu.Unlock()

	if !s.DebugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	Boot("taskdealer logging started in %s (level %s)", ws, minLevel)
	if len(s.Categories) == 0 {
		BootDebug("no category filter, every category enabled")
	}
	return InitAudit()
}

func readSettings(ws string) (settings, error) {
	data, err := os.ReadFile(filepath.Join(ws, DirName, "config.json"))
	if os.IsNotExist(err) {
		return settings{}, nil
	}
	if err != nil {
		return settings{}, err
	}
	var file struct {
		Logging settings `json:"logging"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return settings{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return file.Logging, nil
}

// IsDebugMode reports whether category files are written at all.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled reports whether category is written. Categories absent
// from the filter are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if on, listed := cfg.Categories[string(category)]; listed {
		return on
	}
	return true
}

// IsJSONFormat reports whether entries are written as JSON lines.
func IsJSONFormat() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.JSONFormat
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= minLevel
}

// Get returns the logger for category, opening its file on first use.
func Get(category Category) *Logger {
	mu.RLock()
	dir := logsDir
	mu.RUnlock()
	if dir == "" || !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		return &Logger{category: category}
	}
	l := &Logger{
		category: category,
		file:     f,
		out:      log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// emit is the single write path. Errors are written at every level.
func (l *Logger) emit(level Level, reqID string, fields map[string]interface{}, msg string) {
	if l.out == nil || (level < LevelError && !enabled(level)) {
		return
	}
	if IsJSONFormat() {
		data, err := json.Marshal(StructuredLogEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     level.String(),
			Message:   msg,
			RequestID: reqID,
			Fields:    fields,
		})
		if err == nil {
			l.out.Printf("%s", data)
			return
		}
	}
	if reqID != "" {
		msg = "[req:" + reqID + "] " + msg
	}
	if len(fields) > 0 {
		msg = fmt.Sprintf("%s | %v", msg, fields)
	}
	l.out.Printf("[%s] %s", strings.ToUpper(level.String()), msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, "", nil, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, "", nil, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, "", nil, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, "", nil, fmt.Sprintf(format, args...))
}

// CloseAll closes every category file and the audit trail.
func CloseAll() {
	loggersMu.Lock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	CloseAudit()
}

// =============================================================================
// CATEGORY SHORTHANDS
// =============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

func Roster(format string, args ...interface{}) {
	Get(CategoryRoster).Info(format, args...)
}

func RosterDebug(format string, args ...interface{}) {
	Get(CategoryRoster).Debug(format, args...)
}

func RosterWarn(format string, args ...interface{}) {
	Get(CategoryRoster).Warn(format, args...)
}

func Partition(format string, args ...interface{}) {
	Get(CategoryPartition).Info(format, args...)
}

func PartitionDebug(format string, args ...interface{}) {
	Get(CategoryPartition).Debug(format, args...)
}

func StreamDebug(format string, args ...interface{}) {
	Get(CategoryStream).Debug(format, args...)
}

func Guide(format string, args ...interface{}) {
	Get(CategoryGuide).Info(format, args...)
}

func GuideDebug(format string, args ...interface{}) {
	Get(CategoryGuide).Debug(format, args...)
}

func GuideWarn(format string, args ...interface{}) {
	Get(CategoryGuide).Warn(format, args...)
}

func GuideError(format string, args ...interface{}) {
	Get(CategoryGuide).Error(format, args...)
}

func Scheduler(format string, args ...interface{}) {
	Get(CategoryScheduler).Info(format, args...)
}

func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

func SchedulerError(format string, args ...interface{}) {
	Get(CategoryScheduler).Error(format, args...)
}

func Cache(format string, args ...interface{}) {
	Get(CategoryCache).Info(format, args...)
}

func CacheDebug(format string, args ...interface{}) {
	Get(CategoryCache).Debug(format, args...)
}

func CacheWarn(format string, args ...interface{}) {
	Get(CategoryCache).Warn(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

func APIError(format string, args ...interface{}) {
	Get(CategoryAPI).Error(format, args...)
}

func Events(format string, args ...interface{}) {
	Get(CategoryEvents).Info(format, args...)
}

func EventsDebug(format string, args ...interface{}) {
	Get(CategoryEvents).Debug(format, args...)
}

func EventsWarn(format string, args ...interface{}) {
	Get(CategoryEvents).Warn(format, args...)
}

func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

func ServerDebug(format string, args ...interface{}) {
	Get(CategoryServer).Debug(format, args...)
}

func ServerError(format string, args ...interface{}) {
	Get(CategoryServer).Error(format, args...)
}

func Warmer(format string, args ...interface{}) {
	Get(CategoryWarmer).Info(format, args...)
}

func WarmerWarn(format string, args ...interface{}) {
	Get(CategoryWarmer).Warn(format, args...)
}

// =============================================================================
// REQUEST-SCOPED LOGGING
// =============================================================================

// RequestLogger tags every line with a request id and accumulated fields.
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID returns a logger for category tagged with requestID.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField records key=value on every later line.
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

// RequestID returns the correlation id.
func (r *RequestLogger) RequestID() string {
	return r.requestID
}

// formatMsg renders a line the way text mode writes it.
func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	msg := "[req:" + r.requestID + "] " + fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		msg = fmt.Sprintf("%s | %v", msg, r.fields)
	}
	return msg
}

func (r *RequestLogger) log(level Level, format string, args []interface{}) {
	r.logger.emit(level, r.requestID, r.fields, fmt.Sprintf(format, args...))
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.log(LevelDebug, format, args)
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.log(LevelInfo, format, args)
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.log(LevelWarn, format, args)
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.log(LevelError, format, args)
}

// =============================================================================
// TIMING
// =============================================================================

// Timer measures one operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing op.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.category).Debug("%s took %v", t.op, d)
	return d
}

// StopWithThreshold is Stop, but warns when the operation ran longer than
// limit.
func (t *Timer) StopWithThreshold(limit time.Duration) time.Duration {
	d := time.Since(t.start)
	if d > limit {
		Get(t.category).Warn("%s took %v, over %v", t.op, d, limit)
		return d
	}
	Get(t.category).Debug("%s took %v", t.op, d)
	return d
}
