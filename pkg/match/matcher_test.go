package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty config", cfg: Config{}},
		{name: "valid include", cfg: Config{Includes: []string{"data/**"}}},
		{name: "valid with excludes", cfg: Config{Includes: []string{"**"}, Excludes: []string{"**/tmp/**"}}},
		{name: "invalid include", cfg: Config{Includes: []string{"[invalid"}}, wantErr: true},
		{name: "invalid exclude", cfg: Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				var perr *PatternError
				assert.ErrorAs(t, err, &perr)
				assert.Nil(t, m)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		rel  string
		want bool
	}{
		{name: "include match", cfg: Config{Includes: []string{"data/**"}}, rel: "data/a/b.txt", want: true},
		{name: "include miss", cfg: Config{Includes: []string{"data/**"}}, rel: "other/b.txt", want: false},
		{name: "exclude wins", cfg: Config{Includes: []string{"**"}, Excludes: []string{"**/*.log"}}, rel: "a/run.log", want: false},
		{name: "no includes matches all", cfg: Config{}, rel: "anything/here", want: true},
		{name: "hidden skipped by default", cfg: Config{}, rel: ".git/config", want: false},
		{name: "hidden kept when asked", cfg: Config{IncludeHidden: true}, rel: ".git/config", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.rel))
		})
	}
}

func TestMatcher_Filter(t *testing.T) {
	m, err := New(Config{Includes: []string{"**/*.txt"}})
	require.NoError(t, err)

	root := fspath.New("/data")
	entries := []filesystem.PathAttributes{
		{Path: fspath.New("/data/a.txt"), Regular: true},
		{Path: fspath.New("/data/sub/b.txt"), Regular: true},
		{Path: fspath.New("/data/c.bin"), Regular: true},
		{Path: fspath.New("/elsewhere/d.txt"), Regular: true},
	}

	got := m.Filter(root, entries)
	require.Len(t, got, 2)
	assert.Equal(t, "/data/a.txt", got[0].Path.String())
	assert.Equal(t, "/data/sub/b.txt", got[1].Path.String())
}
