package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `Secret phrase:       tide slogan brief spoon crush coil drill aware nerve type agree lock
  Secret seed:       0x37d6f1b2a5c1f6c3b9ab07a1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1
  Public key (hex):  0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070
  Account ID:        0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070
  Public key (SS58): 5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y
  SS58 Address:      5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y
`

func TestParseKeyReport(t *testing.T) {
	report, err := ParseKeyReport(sampleReport)
	require.NoError(t, err)
	assert.Equal(t, "tide slogan brief spoon crush coil drill aware nerve type agree lock", report.SecretPhrase)
	assert.Equal(t, "0x37d6f1b2a5c1f6c3b9ab07a1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1", report.SecretSeed)
	assert.Equal(t, "0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070", report.PublicKeyHex)
	assert.Equal(t, "5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y", report.SS58Address)
	assert.Equal(t, "0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070", report.AccountID)
}

func TestParseKeyReportOptionalFields(t *testing.T) {
	out := `Secret seed:       0x37d6f1b2a5c1f6c3b9ab07a1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1
Public key (hex):  0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070
Public key (SS58): 5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y
`
	report, err := ParseKeyReport(out)
	require.NoError(t, err)
	assert.Empty(t, report.SecretPhrase)
	assert.Empty(t, report.AccountID)
	assert.NotEmpty(t, report.SecretSeed)
}

func TestParseKeyReportMissingMandatoryLabel(t *testing.T) {
	outs := []string{
		"",
		"Secret seed: 0xabc\n",
		"Secret seed: 0xabc\nPublic key (hex): 0xdef\n",
		"unrelated diagnostic output",
	}
	for _, out := range outs {
		_, err := ParseKeyReport(out)
		assert.Error(t, err, "input %q", out)
	}
}

func TestIsValidPublicKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070", true},
		{"9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070", false},
		{"0x9c4c", false},
		{"0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f07", false},
		{"0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f07zz", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidPublicKey(tt.key), tt.key)
	}
}
