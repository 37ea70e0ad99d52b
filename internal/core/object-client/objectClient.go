package objectclient

import (
	"fmt"
	"path"
	"strings"
)

// ObjectURL is the virtual-hosted style URL of an object.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ProcedureKey places reference documents under their account.
func ProcedureKey(accountID, procedureID, fileName string) string {
	return path.Join("accounts", accountID, "procedures", procedureID+"-"+safeName(fileName))
}

// RecordingKey places session audio under the session id.
func RecordingKey(sessionID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".webm"
	}
	return path.Join("recordings", sessionID+ext)
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
