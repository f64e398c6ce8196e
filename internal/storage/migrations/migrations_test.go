package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFiles(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Equal(t, "001_analysis_tasks.sql", pg[0].name)
	assert.Equal(t, "002_token_analyses.sql", pg[1].name)
	assert.Contains(t, pg[0].sql, "analysis_tasks")

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.Len(t, ch, 1)
	assert.Equal(t, "001_token_metrics.sql", ch[0].name)
}

func TestSQLFiles_LexicalOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"db/010_c.sql":  {Data: []byte("c")},
		"db/002_b.sql":  {Data: []byte("b")},
		"db/001_a.sql":  {Data: []byte("a")},
		"db/README.txt": {Data: []byte("ignored")},
	}
	files, err := sqlFiles(fsys, "db")
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.name)
	}
	assert.Equal(t, []string{"001_a.sql", "002_b.sql", "010_c.sql"}, names)
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{
			name: "comments and blank statements dropped",
			in:   "-- header\nCREATE TABLE a (x Int64);\n\nCREATE TABLE b (y String)\n;\n;",
			want: []string{"CREATE TABLE a (x Int64)", "CREATE TABLE b (y String)"},
		},
		{
			name: "escaped quote kept",
			in:   "INSERT INTO t VALUES ('it''s');SELECT 1",
			want: []string{"INSERT INTO t VALUES ('it''s')", "SELECT 1"},
		},
		{
			name: "comment marker inside literal kept",
			in:   "SELECT '\n-- not a comment\n'",
			want: []string{"SELECT '\n-- not a comment\n'"},
		},
		{name: "semicolon in literal", in: "SELECT 'a;b';", wantErr: true},
		{name: "unterminated literal", in: "SELECT 'abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := statements(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/tokenrisk")
	require.NoError(t, err)
	assert.Equal(t, "tokenrisk", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
