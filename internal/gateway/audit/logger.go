package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

const globalAuditFile = "ALL_audit.log"

// Logger writes admitted requests to audit files and access records to the datastore.
type Logger struct {
	config     configuration.AuditConfig
	directory  string
	repository repository.AuditRepository
	clock      clock.PassiveClock
	// Guards all writes to files in directory.
	mu sync.Mutex
	// Open request files by name: the global one and the one of the current month.
	files map[string]*lumberjack.Logger
}

func NewLogger(config configuration.AuditConfig, repository repository.AuditRepository, clock clock.PassiveClock) (*Logger, error) {
	if err := os.MkdirAll(config.Directory, 0o750); err != nil {
		return nil, errors.Wrapf(err, "error creating audit directory %s", config.Directory)
	}
	return &Logger{
		config:     config,
		directory:  config.Directory,
		repository: repository,
		clock:      clock,
		files:      map[string]*lumberjack.Logger{},
	}, nil
}

// LogRequest appends the request to the global audit file and to the file of the current month.
func (l *Logger) LogRequest(requester string, params interface{}) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return errors.WithStack(err)
	}
	line := fmt.Sprintf("Requester:%s Parameters:%s\n", requester, encoded)
	now := l.clock.Now()
	monthly := fmt.Sprintf("%d.%d_audit.log", int(now.Month()), now.Year())

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.closeStaleFiles(monthly)
	for _, name := range []string{globalAuditFile, monthly} {
		if _, err := l.file(name).Write([]byte(line)); err != nil {
			return errors.Wrapf(err, "error writing to %s", name)
		}
	}
	return nil
}

// Close closes the open request files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeStaleFiles("")
}

func (l *Logger) file(name string) *lumberjack.Logger {
	file, ok := l.files[name]
	if !ok {
		file = &lumberjack.Logger{
			Filename:   filepath.Join(l.directory, name),
			MaxSize:    l.config.MaxSizeMB,
			MaxBackups: l.config.MaxBackups,
			MaxAge:     l.config.MaxAgeDays,
			LocalTime:  true,
		}
		l.files[name] = file
	}
	return file
}

// closeStaleFiles closes every open file except the global one and current.
func (l *Logger) closeStaleFiles(current string) error {
	var closeErr error
	for name, file := range l.files {
		if name == current || (name == globalAuditFile && current != "") {
			continue
		}
		if err := file.Close(); err != nil && closeErr == nil {
			closeErr = errors.Wrapf(err, "error closing %s", name)
		}
		delete(l.files, name)
	}
	return closeErr
}

func (l *Logger) LogIllegalAccess(record *domain.IllegalAccessRecord) error {
	if record.AccessTimestamp.IsZero() {
		record.AccessTimestamp = l.clock.Now()
	}
	return l.repository.RecordIllegalAccess(record)
}

func (l *Logger) LogAuditAccess(record *domain.AuditAccessRecord) error {
	if record.AccessTimestamp.IsZero() {
		record.AccessTimestamp = l.clock.Now()
	}
	return l.repository.RecordAuditAccess(record)
}

// DumpPrivateLog writes the newest n access records of the given kind to a file named after
// today's date, replacing any earlier dump of the same day, and returns its path.
func (l *Logger) DumpPrivateLog(kind domain.AccessLogKind, n int) (string, error) {
	if !kind.Valid() {
		return "", &gatewayerrors.ErrInvalidArgument{Name: "type", Value: kind, Message: "must be illegal or audit"}
	}
	if n <= 0 {
		return "", &gatewayerrors.ErrInvalidArgument{Name: "numberOfRecords", Value: n, Message: "must be positive"}
	}

	var records []interface{}
	switch kind {
	case domain.AccessLogIllegal:
		illegal, err := l.repository.GetIllegalAccesses(n)
		if err != nil {
			return "", err
		}
		for _, record := range illegal {
			records = append(records, record)
		}
	case domain.AccessLogAudit:
		audits, err := l.repository.GetAuditAccesses(n)
		if err != nil {
			return "", err
		}
		for _, record := range audits {
			records = append(records, record)
		}
	}

	now := l.clock.Now()
	path := filepath.Join(l.directory, fmt.Sprintf("%d.%d.%d_%s_log.log", now.Day(), int(now.Month()), now.Year(), kind))

	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "error creating %s", path)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := writer.WriteString("Logs:\n"); err != nil {
		return "", errors.WithStack(err)
	}
	for _, record := range records {
		encoded, err := json.Marshal(record)
		if err != nil {
			return "", errors.WithStack(err)
		}
		if _, err := writer.Write(append(encoded, '\n')); err != nil {
			return "", errors.WithStack(err)
		}
	}
	if err := writer.Flush(); err != nil {
		return "", errors.WithStack(err)
	}
	return path, nil
}

// AuditFilePath resolves the name of a file in the audit directory. Names containing a path
// separator or starting with a dot are refused.
func (l *Logger) AuditFilePath(name string) (string, error) {
	if name == "" {
		return "", &gatewayerrors.ErrInvalidArgument{Name: "name", Value: name, Message: "missing name"}
	}
	if name != filepath.Base(name) || name[0] == '.' {
		return "", &gatewayerrors.ErrInvalidArgument{Name: "name", Value: name, Message: "not a file name"}
	}
	path := filepath.Join(l.directory, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return "", &gatewayerrors.ErrNotFound{Type: "audit file", Value: name}
	} else if err != nil {
		return "", errors.WithStack(err)
	}
	return path, nil
}
