package abctool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expectedVersion = "4.84 January 20 2023 abc2midi"

// stubConverter implements Converter for testing
type stubConverter struct {
	version string
	err     error
}

func (s *stubConverter) Version(context.Context) (string, error) {
	return s.version, s.err
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		err     error
		wantErr bool
	}{
		{
			name:    "exact match",
			version: expectedVersion,
		},
		{
			name:    "older version",
			version: "4.57 June 05 2020 abc2midi",
			wantErr: true,
		},
		{
			name:    "newer version",
			version: "4.90 March 01 2024 abc2midi",
			wantErr: true,
		},
		{
			name:    "malformed output",
			version: "command not found",
			wantErr: true,
		},
		{
			name:    "empty output",
			version: "",
			wantErr: true,
		},
		{
			name:    "exec failure",
			err:     errors.New("no such file or directory"),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv := &stubConverter{version: tc.version, err: tc.err}
			err := CheckVersion(context.Background(), conv, expectedVersion)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), expectedVersion, "mismatch error must name the expected version")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShellConverterVersionTrimsOutput(t *testing.T) {
	// echo prints its argument plus a newline; Version must trim it.
	conv := NewShellConverter("echo", expectedVersion)

	got, err := conv.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expectedVersion, got)
}

func TestShellConverterVersionMissingBinary(t *testing.T) {
	conv := NewShellConverter("/nonexistent/abc2midi", "-ver")

	_, err := conv.Version(context.Background())
	assert.Error(t, err)
}
