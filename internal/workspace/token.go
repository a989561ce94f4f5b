package workspace

import (
	"path"
	"strings"
)

// UserFromToken returns the user name carried by a token of the form
// "un=<user>|tokenid=...|expiry=...". It returns "" when there is none.
func UserFromToken(token string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(token), "|")
	user, ok := strings.CutPrefix(first, "un=")
	if !ok {
		return ""
	}
	return user
}

// RemoteDir is the default destination for a run:
// /<user>/home/<folder>/<sessionID>/<runID>.
func RemoteDir(user, folder, sessionID, runID string) string {
	return path.Join("/", user, "home", folder, sessionID, runID)
}
