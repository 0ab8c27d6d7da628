package utils

// MaskSecret keeps at most the first four characters of s, enough to tell tokens apart in logs.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "*****"
	}
	return s[:4] + "*****"
}
