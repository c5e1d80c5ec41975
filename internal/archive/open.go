package archive

import (
	"agent_dashboard/internal/db"
)

var (
	_ Sink = (*SQLiteSink)(nil)
	_ Sink = (*GormSink)(nil)
)

// Open returns the MySQL sink when mysqlDSN is set and the SQLite sink at
// sqlitePath otherwise
func Open(sqlitePath, mysqlDSN string, debug bool) (Sink, error) {
	if mysqlDSN == "" {
		sink, err := OpenSQLite(sqlitePath)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	conn, err := db.InitMySQL(mysqlDSN, debug)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, err
	}
	return NewGormSink(conn), nil
}
