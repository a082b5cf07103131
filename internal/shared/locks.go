package shared

import "fmt"

// DocNumberLockKey builds the redis key guarding document numbering for one type and month.
func DocNumberLockKey(docType, period string) string {
	return fmt.Sprintf("lock:docno:%s:%s", docType, period)
}
