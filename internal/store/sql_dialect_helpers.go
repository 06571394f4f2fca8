package store

import "strings"

func insertIgnoreVerb(d Dialect) string {
	if d == DialectSQLite {
		return "INSERT OR IGNORE"
	}
	return "INSERT IGNORE"
}

// upsertRecordSQL 返回按主键覆盖 doc 的写入语句。
func upsertRecordSQL(d Dialect) string {
	if d == DialectSQLite {
		return `INSERT INTO doc_records(schema_name, table_name, hash_value, doc, updated_at) VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(schema_name, table_name, hash_value) DO UPDATE SET doc=excluded.doc, updated_at=CURRENT_TIMESTAMP`
	}
	return `INSERT INTO doc_records(schema_name, table_name, hash_value, doc, updated_at) VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
ON DUPLICATE KEY UPDATE doc=VALUES(doc), updated_at=CURRENT_TIMESTAMP`
}

func forUpdateClause(d Dialect) string {
	if d == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
