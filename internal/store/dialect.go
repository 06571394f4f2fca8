package store

// Dialect 表示 SQL 方言，用于处理 MySQL/SQLite 的语法差异。
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// Driver 为文档存储后端；SQL 后端再按 Dialect 细分。
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMySQL  Driver = "mysql"
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)
