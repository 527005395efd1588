package util

// StorageKey isolates userKey inside namespace ns. An empty namespace leaves the key as is.
func StorageKey(ns, userKey string) string {
	if ns == "" {
		return userKey
	}
	return ns + ":" + userKey
}

// Prefix returns the storage-key prefix owned by ns ("" => every key).
func Prefix(ns string) string {
	if ns == "" {
		return ""
	}
	return ns + ":"
}
