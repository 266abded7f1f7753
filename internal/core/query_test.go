package core

import (
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/types"
)

// ---------------------------------------------------------------------------
// ParseQuery
// ---------------------------------------------------------------------------

func TestParseQueryMatches(t *testing.T) {
	nginx := binaryPkg("nginx", "1.2.1-1", "amd64")
	nginx.Stanza = append(nginx.Stanza, types.Field{Name: "Priority", Value: "optional"})
	nginx.SourceName = "nginx-src"
	nginxOld := binaryPkg("nginx", "1.0.0-1", "i386")
	apache := binaryPkg("apache2", "2.4.1", "amd64")
	apache.Stanza = append(apache.Stanza, types.Field{Name: "Priority", Value: "required"})
	src := sourcePkg("nginx", "1.2.1-1")

	tests := []struct {
		name  string
		query string
		pkg   types.Package
		want  bool
	}{
		{name: "bare name", query: "nginx", pkg: nginx, want: true},
		{name: "bare name other", query: "nginx", pkg: apache, want: false},
		{name: "relation gte", query: "nginx (>= 1.2)", pkg: nginx, want: true},
		{name: "relation gte fails", query: "nginx (>= 1.2)", pkg: nginxOld, want: false},
		{name: "legacy greater", query: "nginx (>1.1)", pkg: nginx, want: true},
		{name: "legacy less", query: "nginx (<1.0.0-1)", pkg: nginxOld, want: true},
		{name: "strict less", query: "nginx (<< 1.0.0-1)", pkg: nginxOld, want: false},
		{name: "architecture", query: "nginx {i386}", pkg: nginxOld, want: true},
		{name: "architecture mismatch", query: "nginx {i386}", pkg: nginx, want: false},
		{name: "field equals", query: "Priority (required)", pkg: apache, want: true},
		{name: "field equals mismatch", query: "Priority (required)", pkg: nginx, want: false},
		{name: "field exists", query: "Priority", pkg: nginx, want: true},
		{name: "field missing", query: "Priority", pkg: nginxOld, want: false},
		{name: "virtual source", query: "$Source (nginx-src)", pkg: nginx, want: true},
		{name: "package type", query: "$PackageType (source)", pkg: src, want: true},
		{name: "version glob", query: "$Version (% 1.2.*)", pkg: nginx, want: true},
		{name: "name glob", query: "Name (% ngi*)", pkg: nginx, want: true},
		{name: "or", query: "apache2 | nginx {i386}", pkg: nginxOld, want: true},
		{name: "and", query: "nginx, $Architecture (amd64)", pkg: nginx, want: true},
		{name: "and fails", query: "nginx, $Architecture (amd64)", pkg: nginxOld, want: false},
		{name: "not", query: "!nginx", pkg: apache, want: true},
		{name: "grouping", query: "!(nginx | apache2)", pkg: apache, want: false},
		{name: "precedence", query: "apache2 | nginx, Priority", pkg: nginxOld, want: false},
		{name: "shorthand", query: "nginx_1.2.1-1_amd64", pkg: nginx, want: true},
		{name: "shorthand without arch", query: "nginx_1.0.0-1", pkg: nginxOld, want: true},
		{name: "shorthand mismatch", query: "nginx_1.2.1-1_i386", pkg: nginx, want: false},
		{name: "empty matches all", query: "", pkg: apache, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Matches(tt.pkg))
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		pos   int
	}{
		{name: "unclosed group", query: "(nginx", pos: 6},
		{name: "dangling or", query: "nginx |", pos: 7},
		{name: "bad operator", query: "nginx (=> 1)", pos: 7},
		{name: "missing value", query: "nginx (>= )", pos: 10},
		{name: "trailing garbage", query: "nginx )", pos: 6},
		{name: "unclosed arch", query: "nginx {amd64", pos: 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.query)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
			var parseErr *QueryParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.pos, parseErr.Pos)
		})
	}
}

func TestParseQueries(t *testing.T) {
	q, err := ParseQueries([]string{"sensu (>0.12)", "sensu (<0.9.6)"})
	require.NoError(t, err)

	assert.True(t, q.Matches(binaryPkg("sensu", "0.12.1-1", "amd64")))
	assert.True(t, q.Matches(binaryPkg("sensu", "0.9.5-1", "i386")))
	assert.False(t, q.Matches(binaryPkg("sensu", "0.10.0-1", "amd64")))
}
