package medcompanion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeys(t *testing.T) {
	h := HashBytes([]byte("/data/report.pdf"))

	assert.Equal(t, h.String()+".txt", TextKey(h))
	assert.Equal(t, h.String()+".json", SidecarKey(h))
}

func TestParseCacheKey(t *testing.T) {
	h := HashBytes([]byte("/data/report.pdf"))

	tests := []struct {
		name    string
		key     string
		wantExt string
		wantErr bool
	}{
		{name: "text", key: TextKey(h), wantExt: TextExt},
		{name: "sidecar", key: SidecarKey(h), wantExt: SidecarExt},
		{name: "temp file", key: ".tmp-123456", wantErr: true},
		{name: "nested", key: "sub/" + TextKey(h), wantErr: true},
		{name: "bad hex", key: "zz.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ext, err := ParseCacheKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, h, got)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}
