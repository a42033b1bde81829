package substrate

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyReport is the parsed form of the tool's human-oriented key report, e.g.
//
//	Secret phrase:       tide slogan brief ... lock
//	  Secret seed:       0x37d6...
//	  Public key (hex):  0x9c4c...
//	  Account ID:        0x9c4c...
//	  Public key (SS58): 5FbS...
//	  SS58 Address:      5FbS...
//
// Secret phrase and account ID are not printed by every tool version and are
// therefore optional; the remaining fields are mandatory.
type KeyReport struct {
	SecretPhrase string
	SecretSeed   string
	PublicKeyHex string
	SS58Address  string
	AccountID    string
}

const (
	labelSecretPhrase = "Secret phrase:"
	labelSecretSeed   = "Secret seed:"
	labelPublicKeyHex = "Public key (hex):"
	labelSS58         = "Public key (SS58):"
	labelAccountID    = "Account ID:"
)

var publicKeyRE = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsValidPublicKey reports whether [key] is a 0x-prefixed 32-byte hex string.
func IsValidPublicKey(key string) bool {
	return publicKeyRE.MatchString(key)
}

// ParseKeyReport extracts a KeyReport from the tool's key-report text.
// A missing mandatory label means the tool's output format changed or the
// command failed silently, and is an error; partial reports are never
// returned.
func ParseKeyReport(out string) (*KeyReport, error) {
	report := &KeyReport{}
	for _, field := range []struct {
		label    string
		dst      *string
		optional bool
		// The secret phrase is a run of words, everything else is a
		// single token.
		restOfLine bool
	}{
		{labelSecretPhrase, &report.SecretPhrase, true, true},
		{labelSecretSeed, &report.SecretSeed, false, false},
		{labelPublicKeyHex, &report.PublicKeyHex, false, false},
		{labelSS58, &report.SS58Address, false, false},
		{labelAccountID, &report.AccountID, true, false},
	} {
		value, ok := after(out, field.label, field.restOfLine)
		if !ok {
			if field.optional {
				continue
			}
			return nil, fmt.Errorf("key report is missing label %q; tool output format mismatch", field.label)
		}
		*field.dst = value
	}
	return report, nil
}

// after returns the token (or trimmed rest of line) following [label].
func after(out, label string, restOfLine bool) (string, bool) {
	_, tail, found := strings.Cut(out, label)
	if !found {
		return "", false
	}
	if restOfLine {
		line, _, _ := strings.Cut(tail, "\n")
		line = strings.TrimSpace(line)
		if line == "" {
			return "", false
		}
		return line, true
	}
	fields := strings.Fields(tail)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
