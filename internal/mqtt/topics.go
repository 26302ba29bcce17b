package mqtt

import (
	"fmt"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "portunus"

// Topics builds the topic hierarchy of one site:
//
//	<prefix>/<site>/credentials/changed      change broadcast between doors
//	<prefix>/<site>/door/<door>/open         door-open button / remote open
//	<prefix>/<site>/door/<door>/events       opened events published by a door
//	<prefix>/<site>/door/<door>/status       retained online/offline state
//	<prefix>/<site>/log/<level>              retained operator notifications
type Topics struct {
	Prefix string
	Site   string
}

func (t Topics) base() string {
	prefix := strings.Trim(t.Prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if t.Site == "" {
		return prefix
	}
	return prefix + "/" + t.Site
}

func (t Topics) CredentialsChanged() string {
	return t.base() + "/credentials/changed"
}

func (t Topics) DoorOpen(doorID string) string {
	return fmt.Sprintf("%s/door/%s/open", t.base(), doorID)
}

func (t Topics) DoorEvents(doorID string) string {
	return fmt.Sprintf("%s/door/%s/events", t.base(), doorID)
}

// DoorStatus carries the retained online state and the last will.
func (t Topics) DoorStatus(doorID string) string {
	return fmt.Sprintf("%s/door/%s/status", t.base(), doorID)
}

func (t Topics) Log(level notify.Level) string {
	return t.base() + "/log/" + string(level)
}
