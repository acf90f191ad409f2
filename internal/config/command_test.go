package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgv(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "empty", input: "", want: nil},
		{name: "simple", input: "pw-play --volume 1.0", want: []string{"pw-play", "--volume", "1.0"}},
		{name: "quoted spaces", input: `mpv --title "parla response"`, want: []string{"mpv", "--title", "parla response"}},
		{name: "single quote", input: `mpv --title 'parla response'`, want: []string{"mpv", "--title", "parla response"}},
		{name: "escaped space", input: `mycmd hello\ world`, want: []string{"mycmd", "hello world"}},
		{name: "leading comment", input: `# pw-play -`, want: nil},
		{name: "unterminated quote", input: `mycmd "oops`, wantErr: "unterminated quote"},
		{name: "unterminated escape", input: `mycmd hello\`, wantErr: "unterminated escape"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgv(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseCommandKeepsRawAlongsideArgv(t *testing.T) {
	cmd, err := ParseCommand("aplay -q -")
	require.NoError(t, err)
	require.Equal(t, "aplay -q -", cmd.Raw)
	require.Equal(t, []string{"aplay", "-q", "-"}, cmd.Argv)

	_, err = ParseCommand(`aplay "unterminated`)
	require.Error(t, err)
}

func TestParseCommandCommentedOutYieldsZeroCommand(t *testing.T) {
	cmd, err := ParseCommand("# pw-play -")
	require.NoError(t, err)
	require.Equal(t, CommandConfig{}, cmd)
}
