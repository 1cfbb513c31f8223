// backend/src/security/validation/sanitizers_test.go
package validation

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "plain remark", SanitizeText("plain remark"))
	assert.Equal(t, "note bold", SanitizeText("note <b>bold</b>"))
	assert.Equal(t, "", SanitizeText("<script>alert(1)</script>"))
}

func TestSanitizeForFormulaInjection(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"=SUM(A1)", "'=SUM(A1)"},
		{"@cmd", "'@cmd"},
		{"  =1+1", "'  =1+1"}, // trigger found after trimming, original kept
		{"-0.5 adjustment", "'-0.5 adjustment"},
		{"ordinary text", "ordinary text"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeForFormulaInjection(tt.in), "input %q", tt.in)
	}
}

func TestStripUnprintable(t *testing.T) {
	assert.Equal(t, "abc\tdef\n", StripUnprintable("abc\tdef\n"))
	assert.Equal(t, "abc", StripUnprintable("a\x00b\x07c"))
}

func TestValidateClientContentType(t *testing.T) {
	require.NoError(t, ValidateClientContentType("text/csv"))
	require.NoError(t, ValidateClientContentType("Application/CSV"))
	require.NoError(t, ValidateClientContentType("application/vnd.ms-excel"))

	assert.Error(t, ValidateClientContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	assert.Error(t, ValidateClientContentType("application/pdf"))
	assert.Error(t, ValidateClientContentType(""))
}

func TestValidateFileContentByMagicBytes(t *testing.T) {
	t.Run("csv accepted and rewound", func(t *testing.T) {
		data := "UTC_Time,Operation,Coin,Change\n2024-01-01 00:00:00,Buy,BTC,1\n"
		r := strings.NewReader(data)

		detected, err := ValidateFileContentByMagicBytes(r)
		require.NoError(t, err)
		assert.Equal(t, "text/plain", detected)

		rest := make([]byte, len(data))
		n, _ := r.Read(rest)
		assert.Equal(t, data, string(rest[:n]), "reader should be rewound for the parser")
	})

	t.Run("null bytes rejected", func(t *testing.T) {
		_, err := ValidateFileContentByMagicBytes(strings.NewReader("col\x00umn,value\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "binary")
	})

	t.Run("empty file rejected", func(t *testing.T) {
		_, err := ValidateFileContentByMagicBytes(strings.NewReader(""))
		require.Error(t, err)
	})

	t.Run("pdf signature rejected", func(t *testing.T) {
		_, err := ValidateFileContentByMagicBytes(strings.NewReader("%PDF-1.7 fake content"))
		require.Error(t, err)
	})
}
