package query

import (
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		sql    string
		params map[string]any
	}{
		{
			name:   "equality",
			input:  "level = Error",
			sql:    "level = $p0",
			params: map[string]any{"p0": "Error"},
		},
		{
			name:   "and with snake case column",
			input:  "level = Error and serviceName = api",
			sql:    "(level = $p0 AND service_name = $p1)",
			params: map[string]any{"p0": "Error", "p1": "api"},
		},
		{
			name:   "contains wraps wildcards",
			input:  `message contains "failed"`,
			sql:    "message LIKE $p0",
			params: map[string]any{"p0": "%failed%"},
		},
		{
			name:   "and binds tighter than or",
			input:  "level = Error or level = Warn and serviceName = api",
			sql:    "(level = $p0 OR (level = $p1 AND service_name = $p2))",
			params: map[string]any{"p0": "Error", "p1": "Warn", "p2": "api"},
		},
		{
			name:   "keywords are case insensitive",
			input:  "LEVEL = Error AND hostname != web1 OR traceId = abc",
			sql:    "((level = $p0 AND hostname != $p1) OR trace_id = $p2)",
			params: map[string]any{"p0": "Error", "p1": "web1", "p2": "abc"},
		},
		{
			name:   "comparison operators pass through",
			input:  "timestamp >= 2025-01-01 and timestamp < 2025-02-01",
			sql:    "(timestamp >= $p0 AND timestamp < $p1)",
			params: map[string]any{"p0": "2025-01-01", "p1": "2025-02-01"},
		},
		{
			name:   "dotted literal",
			input:  "hostname = 10.0.0.1",
			sql:    "hostname = $p0",
			params: map[string]any{"p0": "10.0.0.1"},
		},
		{
			name:   "column to column",
			input:  "hostname = serviceName",
			sql:    "hostname = service_name",
			params: map[string]any{},
		},
		{
			name:   "metadata equality",
			input:  "metadata.user = JohnDoe",
			sql:    "json_extract_string(metadata, $p0) = $p1",
			params: map[string]any{"p0": `$."user"`, "p1": "JohnDoe"},
		},
		{
			name:   "metadata path is flattened",
			input:  "metadata.http.status != 200",
			sql:    "json_extract_string(metadata, $p0) != $p1",
			params: map[string]any{"p0": `$."http.status"`, "p1": "200"},
		},
		{
			name:   "metadata numeric comparison casts",
			input:  "metadata.latency > 2.5",
			sql:    "TRY_CAST(json_extract_string(metadata, $p0) AS DOUBLE) > TRY_CAST($p1 AS DOUBLE)",
			params: map[string]any{"p0": `$."latency"`, "p1": "2.5"},
		},
		{
			name:   "metadata containment",
			input:  "metadata.status contains 500",
			sql:    "json_contains(metadata, $p0)",
			params: map[string]any{"p0": `{"status":500}`},
		},
		{
			name:   "metadata containment quoted stays string",
			input:  `metadata.status contains "500"`,
			sql:    "json_contains(metadata, $p0)",
			params: map[string]any{"p0": `{"status":"500"}`},
		},
		{
			name:   "metadata member has",
			input:  "metadata.user has",
			sql:    "json_exists(metadata, $p0)",
			params: map[string]any{"p0": `$."user"`},
		},
		{
			name:   "bare metadata has key",
			input:  "metadata has requestId and level = Error",
			sql:    "(json_exists(metadata, $p0) AND level = $p1)",
			params: map[string]any{"p0": `$."requestId"`, "p1": "Error"},
		},
		{
			name:   "bare value is full text",
			input:  `timeout or "connection reset"`,
			sql:    "(message LIKE $p0 OR message LIKE $p1)",
			params: map[string]any{"p0": "%timeout%", "p1": "%connection reset%"},
		},
		{
			name:   "metadata on the right",
			input:  "serviceName = metadata.origin",
			sql:    "service_name = json_extract_string(metadata, $p0)",
			params: map[string]any{"p0": `$."origin"`},
		},
		{
			name:   "injection attempt stays a parameter",
			input:  `message = "x'; DROP TABLE logs; --"`,
			sql:    "message = $p0",
			params: map[string]any{"p0": "x'; DROP TABLE logs; --"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, err := Compile(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.sql, where.SQL)
			require.Equal(t, tt.params, where.Values())
		})
	}
}

func TestCompileParamOrder(t *testing.T) {
	where, err := Compile("level = Error or level = Warn and serviceName = api")
	require.NoError(t, err)

	var names []string
	for _, p := range where.Params {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"p0", "p1", "p2"}, names)

	args := where.Args()
	require.Len(t, args, 3)
	require.Equal(t, sql.Named("p1", "Warn"), args[1])
}

func TestCompileBlank(t *testing.T) {
	where, err := Compile("")
	require.NoError(t, err)
	require.True(t, where.Empty())
	require.Empty(t, where.Args())
}

func TestCompileErrors(t *testing.T) {
	for _, input := range []string{
		"level",
		"level has x",
		"level = Error and metadata.",
		`message = "unterminated`,
		"metadata.user contains serviceName",
	} {
		t.Run(input, func(t *testing.T) {
			where, err := Compile(input)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrSyntax), err.Error())
			require.True(t, where.Empty())
		})
	}
}

func TestCompilerResetsBetweenCalls(t *testing.T) {
	c := NewCompiler()

	first, err := c.Compile("level = Error and serviceName = api")
	require.NoError(t, err)
	require.Len(t, first.Params, 2)

	_, err = c.Compile("level = = broken")
	require.Error(t, err)

	second, err := c.Compile("hostname = web1")
	require.NoError(t, err)
	require.Equal(t, "hostname = $p0", second.SQL)
	require.Equal(t, map[string]any{"p0": "web1"}, second.Values())

	// The first result is not affected by later compilations.
	require.Equal(t, "(level = $p0 AND service_name = $p1)", first.SQL)
	require.Equal(t, "Error", first.Params[0].Value)
}

func TestPackageCompileConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				where, err := Compile("level = Error and serviceName = api")
				if err != nil || where.SQL != "(level = $p0 AND service_name = $p1)" {
					t.Errorf("unexpected compile result %q, %v", where.SQL, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestColumn(t *testing.T) {
	require.Equal(t, "service_name", Column("serviceName"))
	require.Equal(t, "trace_id", Column("traceId"))
	require.Equal(t, "span_id", Column("spanId"))
	require.Equal(t, "level", Column("level"))
	require.Equal(t, "someUnknown", Column("someUnknown"))
}
