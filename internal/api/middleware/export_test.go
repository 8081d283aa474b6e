package middleware

// ExportedKeyPrefixKey exposes the key_prefix context key to external tests.
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
