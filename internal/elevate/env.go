package elevate

import "strings"

// strippedCredentialVars are the credential-bearing environment variable
// names the elevation wrapper removes from the child's environment before
// overlaying its own (spec.md §4.14 step 4), so the wrapped command can
// only reach production through the ephemeral proxy this wrapper starts.
var strippedCredentialVars = []string{
	"CLOUDSDK_AUTH_ACCESS_TOKEN",
	"CPL_GS_BEARER",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"GOOGLE_OAUTH_ACCESS_TOKEN",
	"CLOUDSDK_AUTH_CREDENTIAL_FILE_OVERRIDE",
	"CLOUDSDK_CORE_ACCOUNT",
	"CLOUDSDK_CONFIG",
}

// buildChildEnv filters parentEnv (a KEY=VALUE slice, in os.Environ's
// shape) by dropping strippedCredentialVars and any key also present in
// overlay, then appends overlay. The filtering logic (last-write-wins,
// trimmed keys, blank entries dropped) is adapted from tools/si's
// filterEnv, generalized here to also honor an explicit strip list.
func buildChildEnv(parentEnv []string, overlay map[string]string) []string {
	stripped := make(map[string]struct{}, len(strippedCredentialVars)+len(overlay))
	for _, name := range strippedCredentialVars {
		stripped[name] = struct{}{}
	}
	for name := range overlay {
		stripped[name] = struct{}{}
	}

	filtered := make([]string, 0, len(parentEnv)+len(overlay))
	seen := map[string]int{}
	for _, entry := range parentEnv {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key := entry
		if idx := strings.Index(entry, "="); idx >= 0 {
			key = entry[:idx]
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, drop := stripped[key]; drop {
			continue
		}
		if existing, ok := seen[key]; ok {
			filtered[existing] = entry
			continue
		}
		seen[key] = len(filtered)
		filtered = append(filtered, entry)
	}

	for key, value := range overlay {
		filtered = append(filtered, key+"="+value)
	}
	return filtered
}
