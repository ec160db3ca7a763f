package misc

import (
	"strings"

	"github.com/growgrammers/authflow/internal/util"
	log "github.com/sirupsen/logrus"
)

// Separator used to visually group related log lines.
var credentialSeparator = strings.Repeat("-", 67)

// LogSavingToken emits a consistent log message when an access token is persisted.
func LogSavingToken(provider, accessToken string) {
	if accessToken == "" {
		return
	}
	log.WithField("provider", provider).Infof("saving access token %s", util.MaskToken(accessToken))
}

// LogCredentialSeparator adds a visual separator to group auth processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
