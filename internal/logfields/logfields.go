package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCaseID     = "case_id"
	KeyDocumentID = "document_id"
	KeyUserID     = "user_id"
	KeyRequestID  = "request_id"
	KeyFilename   = "filename"
	KeyFileType   = "file_type"
	KeyStage      = "stage"
	KeyStatus     = "status"
	KeyPercent    = "percent"
	KeyDurationMS = "duration_ms"
	KeyBlobKey    = "blob_key"
	KeyStoreID    = "store_id"
	KeyVersion    = "version"
	KeyProvider   = "provider"
	KeyError      = "error"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatusCode = "status_code"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CaseID(id string) slog.Attr      { return slog.String(KeyCaseID, id) }
func DocumentID(id string) slog.Attr  { return slog.String(KeyDocumentID, id) }
func UserID(id string) slog.Attr      { return slog.String(KeyUserID, id) }
func RequestID(id string) slog.Attr   { return slog.String(KeyRequestID, id) }
func Filename(name string) slog.Attr  { return slog.String(KeyFilename, name) }
func FileType(t string) slog.Attr     { return slog.String(KeyFileType, t) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Percent(p int) slog.Attr         { return slog.Int(KeyPercent, p) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func BlobKey(k string) slog.Attr      { return slog.String(KeyBlobKey, k) }
func StoreID(id string) slog.Attr     { return slog.String(KeyStoreID, id) }
func Version(v int) slog.Attr         { return slog.Int(KeyVersion, v) }
func Provider(p string) slog.Attr     { return slog.String(KeyProvider, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// HTTP request fields used by the server middleware.
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func StatusCode(c int) slog.Attr       { return slog.Int(KeyStatusCode, c) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
