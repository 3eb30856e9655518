package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	auditMu     sync.Mutex
	auditLog    *log.Logger
	auditEnable bool
)

// SetAuditWriter directs the audit trail to w. Pass nil to disable.
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags)
}

// EnableAuditDump toggles full-payload dumps of verification/validation
// records into the audit log.
func EnableAuditDump(enabled bool) {
	auditMu.Lock()
	auditEnable = enabled
	auditMu.Unlock()
}

type AuditSection struct {
	Title string
	Body  string
}

// Audit writes one sectioned audit entry. kind tags the record type
// (VERIFY/VALIDATE/SETTLE), ref is the record or trade identifier.
func Audit(kind, ref, verdict string, sections []AuditSection) {
	auditMu.Lock()
	l := auditLog
	dump := auditEnable
	auditMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AUDIT]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if ref != "" {
		b.WriteString("[")
		b.WriteString(ref)
		b.WriteString("]")
	}
	if verdict != "" {
		b.WriteString(" ")
		b.WriteString(verdict)
	}
	b.WriteString("\n")
	if dump {
		for _, sec := range sections {
			t := strings.TrimSpace(sec.Title)
			if t == "" {
				t = "CONTENT"
			}
			b.WriteString("--- ")
			b.WriteString(t)
			b.WriteString(" ---\n")
			b.WriteString(sec.Body)
			if !strings.HasSuffix(sec.Body, "\n") {
				b.WriteString("\n")
			}
		}
		b.WriteString("=====\n")
	}
	l.Print(b.String())
}
