package logging

import "github.com/sirupsen/logrus"

// BaseFields builds the action + storage root fields shared by every engine
// log line.
func BaseFields(action, rootPath string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"root":   rootPath,
	}
}

// CacheFields provides origin/cache identification fields for partition and
// named-cache operations.
func CacheFields(origin string, identifier uint64, cacheName string) logrus.Fields {
	return logrus.Fields{
		"origin":     origin,
		"cache_id":   identifier,
		"cache_name": cacheName,
	}
}

// DecisionFields reports a policy outcome together with the key it applies
// to, used by retrieve/store logging.
func DecisionFields(key, decision string, hit bool) logrus.Fields {
	return logrus.Fields{
		"key":      key,
		"decision": decision,
		"hit":      hit,
	}
}
