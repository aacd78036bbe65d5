package chat

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultMaxUploadBytes is the per-file ceiling enforced before any upload starts.
	DefaultMaxUploadBytes int64 = 10 * 1024 * 1024
	// DefaultErrorTTL is how long a failed upload card stays visible.
	DefaultErrorTTL = 5 * time.Second
)

// UploadStatus is the lifecycle state of an upload card.
type UploadStatus int

const (
	UploadUploading UploadStatus = iota
	UploadSucceeded
	UploadFailed
)

func (s UploadStatus) String() string {
	switch s {
	case UploadUploading:
		return "uploading"
	case UploadSucceeded:
		return "success"
	case UploadFailed:
		return "error"
	}
	return "unknown"
}

// UploadEntry is one in-flight or recently finished file transfer.
type UploadEntry struct {
	TempID    string
	FileName  string
	SizeBytes int64
	MIMEType  string
	Progress  int
	Status    UploadStatus
	Err       string
}

// FileInfo describes a file the user picked for upload.
type FileInfo struct {
	Name     string
	Size     int64
	MIMEType string
}

// UploadPolicy holds the upload limits. AllowedTypes entries are either an
// extension (".pdf"), a MIME prefix ("image/") or an exact MIME type; an empty
// list accepts everything.
type UploadPolicy struct {
	MaxBytes     int64
	AllowedTypes []string
	ErrorTTL     time.Duration
}

// DefaultUploadPolicy returns the chat room limits: 10 MiB, any type, 5s error cards.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{MaxBytes: DefaultMaxUploadBytes, ErrorTTL: DefaultErrorTTL}
}

func (p UploadPolicy) withDefaults() UploadPolicy {
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxUploadBytes
	}
	if p.ErrorTTL <= 0 {
		p.ErrorTTL = DefaultErrorTTL
	}
	return p
}

// Validate checks a file against the policy without touching any state.
func (p UploadPolicy) Validate(file FileInfo) error {
	p = p.withDefaults()
	if file.Size > p.MaxBytes {
		return &ValidationError{
			FileName: file.Name,
			Reason:   fmt.Sprintf("file size too large, pick a file smaller than %s", FormatSize(p.MaxBytes)),
			Err:      ErrFileTooLarge,
		}
	}
	if len(p.AllowedTypes) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	mimeType := strings.ToLower(file.MIMEType)
	for _, allowed := range p.AllowedTypes {
		allowed = strings.ToLower(allowed)
		switch {
		case strings.HasPrefix(allowed, "."):
			if ext == allowed {
				return nil
			}
		case strings.HasSuffix(allowed, "/"):
			if strings.HasPrefix(mimeType, allowed) {
				return nil
			}
		case mimeType == allowed:
			return nil
		}
	}
	return &ValidationError{
		FileName: file.Name,
		Reason:   fmt.Sprintf("file type %q is not allowed here", displayType(file)),
		Err:      ErrFileType,
	}
}

func displayType(file FileInfo) string {
	if file.MIMEType != "" {
		return file.MIMEType
	}
	return filepath.Ext(file.Name)
}

// UploadTracker keeps the upload cards of the active room, independent of the
// message list. Not safe for concurrent use.
type UploadTracker struct {
	policy  UploadPolicy
	entries []UploadEntry
	newID   func() string
}

func NewUploadTracker(policy UploadPolicy, newID func() string) *UploadTracker {
	if newID == nil {
		newID = func() string { return NewCorrelationID(fileIDPrefix) }
	}
	return &UploadTracker{
		policy: policy.withDefaults(),
		newID:  newID,
	}
}

// Policy returns the limits in effect.
func (t *UploadTracker) Policy() UploadPolicy {
	return t.policy
}

// Begin validates the file and, if accepted, creates an uploading entry at 0%.
func (t *UploadTracker) Begin(file FileInfo) (string, error) {
	// name-only guess for callers that did not sniff the content; the TUI
	// fills MIMEType from the file bytes before calling
	if file.MIMEType == "" {
		file.MIMEType = mime.TypeByExtension(filepath.Ext(file.Name))
	}
	if err := t.policy.Validate(file); err != nil {
		return "", err
	}
	tempID := t.newID()
	t.entries = append(t.entries, UploadEntry{
		TempID:    tempID,
		FileName:  file.Name,
		SizeBytes: file.Size,
		MIMEType:  file.MIMEType,
		Status:    UploadUploading,
	})
	return tempID, nil
}

// ReportProgress moves the progress bar forward. Lower values than the current
// one are ignored so progress never goes backwards.
func (t *UploadTracker) ReportProgress(tempID string, percent int) bool {
	entry := t.find(tempID)
	if entry == nil || entry.Status != UploadUploading {
		return false
	}
	percent = clampPercent(percent)
	if percent <= entry.Progress {
		return false
	}
	entry.Progress = percent
	return true
}

// Complete marks the transfer as stored. The entry stays visible until the
// matching message is confirmed over the realtime channel.
func (t *UploadTracker) Complete(tempID, resultURL string) (UploadEntry, bool) {
	entry := t.find(tempID)
	if entry == nil || entry.Status != UploadUploading {
		return UploadEntry{}, false
	}
	entry.Status = UploadSucceeded
	entry.Progress = 100
	return *entry, true
}

// Fail marks the transfer as failed with a user-facing reason.
func (t *UploadTracker) Fail(tempID, reason string) bool {
	entry := t.find(tempID)
	if entry == nil || entry.Status != UploadUploading {
		return false
	}
	entry.Status = UploadFailed
	entry.Err = reason
	return true
}

// Dismiss removes a failed card on user request.
func (t *UploadTracker) Dismiss(tempID string) bool {
	entry := t.find(tempID)
	if entry == nil || entry.Status != UploadFailed {
		return false
	}
	return t.remove(tempID)
}

// Expire removes a failed card once its grace period is over. Entries that
// were dismissed already, or that are not failed, are left alone.
func (t *UploadTracker) Expire(tempID string) bool {
	return t.Dismiss(tempID)
}

// Resolve removes the card whose upload has been confirmed as a message.
func (t *UploadTracker) Resolve(correlationID string) bool {
	return t.remove(correlationID)
}

// Get returns a copy of the entry.
func (t *UploadTracker) Get(tempID string) (UploadEntry, bool) {
	entry := t.find(tempID)
	if entry == nil {
		return UploadEntry{}, false
	}
	return *entry, true
}

// Entries returns a copy of the cards in creation order.
func (t *UploadTracker) Entries() []UploadEntry {
	out := make([]UploadEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *UploadTracker) Len() int {
	return len(t.entries)
}

// LastFailed returns the most recent failed entry, used by the dismiss command.
func (t *UploadTracker) LastFailed() (UploadEntry, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Status == UploadFailed {
			return t.entries[i], true
		}
	}
	return UploadEntry{}, false
}

func (t *UploadTracker) Clear() {
	t.entries = nil
}

func (t *UploadTracker) find(tempID string) *UploadEntry {
	for i := range t.entries {
		if t.entries[i].TempID == tempID {
			return &t.entries[i]
		}
	}
	return nil
}

func (t *UploadTracker) remove(tempID string) bool {
	for i := range t.entries {
		if t.entries[i].TempID == tempID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// FormatSize renders a byte count the way upload cards show it.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
